package business

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-yaml"
	"github.com/openkcm/common-sdk/pkg/commoncfg"

	slogctx "github.com/veqryn/slog-context"

	"github.com/streamcompare/authsync/internal/authstore"
	"github.com/streamcompare/authsync/internal/config"
	"github.com/streamcompare/authsync/internal/cookie"
	"github.com/streamcompare/authsync/internal/provider/events"
	"github.com/streamcompare/authsync/internal/provider/gotrue"
)

const (
	OutputText = "text"
	OutputYAML = "yaml"
)

// WhoAmIOptions configures the whoami command.
type WhoAmIOptions struct {
	Email        string
	PasswordFile string
	Output       string
	// Watch keeps the session alive and prints every change until the
	// session ends or ctx is cancelled.
	Watch bool
}

type whoAmIView struct {
	State     string   `yaml:"state"`
	UserID    string   `yaml:"userId,omitempty"`
	Email     string   `yaml:"email,omitempty"`
	Name      string   `yaml:"name,omitempty"`
	Roles     []string `yaml:"roles,omitempty"`
	ExpiresAt string   `yaml:"expiresAt,omitempty"`
}

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle = lipgloss.NewStyle().Bold(true)
	stateStyle = map[string]lipgloss.Style{
		authstore.StateAuthenticated.String(): lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		authstore.StateAnonymous.String():     lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
)

// WhoAmI signs in with a password and prints the identity the session
// source reports, the way a browser tab would see it.
func WhoAmI(ctx context.Context, cfg *config.Config, opts WhoAmIOptions, out io.Writer) error {
	if opts.Email == "" {
		return errors.New("email is required")
	}

	password, err := loadPassword(opts.PasswordFile)
	if err != nil {
		return err
	}

	api, err := NewAPIHolder(cfg).Get()
	if err != nil {
		return fmt.Errorf("creating session source api: %w", err)
	}

	var (
		relay      *events.Relay
		clientOpts []gotrue.ClientOption
	)
	if cfg.ValKey.Enabled {
		valkeyClient, err := NewValkeyClient(cfg.ValKey)
		if err != nil {
			return err
		}
		defer valkeyClient.Close()

		relay = events.NewRelay(valkeyClient, cfg.ValKey.Prefix)
		clientOpts = append(clientOpts, gotrue.WithNotifier(relay))
	}

	client := api.NewClient(cookie.NewJar(), clientOpts...)

	if _, err := client.SignInWithPassword(ctx, opts.Email, password); err != nil {
		return fmt.Errorf("signing in: %w", err)
	}

	store := authstore.New(client)
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting auth store: %w", err)
	}
	defer store.Close()

	changed := store.Changed()
	if err := renderSnapshot(out, opts.Output, store.State(), store.Snapshot()); err != nil {
		return err
	}

	if !opts.Watch {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go client.AutoRefresh(ctx, cfg.SessionSource.AutoRefreshInterval)

	if relay != nil {
		go func() {
			err := relay.Listen(ctx, func(n events.Notice) { client.HandleNotice(ctx, n) })
			if err != nil {
				slogctx.Error(ctx, "Stopped listening for auth notices", "error", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-store.Done():
			return nil
		case <-changed:
		}

		changed = store.Changed()
		state := store.State()
		if err := renderSnapshot(out, opts.Output, state, store.Snapshot()); err != nil {
			return err
		}
		if state == authstore.StateAnonymous {
			return nil
		}
	}
}

func loadPassword(path string) (string, error) {
	if path == "" {
		return "", errors.New("password file is required")
	}

	b, err := commoncfg.LoadValueFromSourceRef(commoncfg.SourceRef{
		Source: "file",
		File:   commoncfg.CredentialFile{Path: path},
	})
	if err != nil {
		return "", fmt.Errorf("loading password: %w", err)
	}

	return strings.TrimSpace(string(b)), nil
}

func newWhoAmIView(state authstore.State, snap authstore.Snapshot) whoAmIView {
	v := whoAmIView{State: state.String()}
	if snap.User == nil {
		return v
	}

	v.UserID = snap.User.ID
	v.Email = snap.User.Email
	v.Name = snap.User.DisplayName()
	v.Roles = snap.User.Roles()
	if exp := snap.Session.Expiry(); !exp.IsZero() {
		v.ExpiresAt = exp.UTC().Format(time.RFC3339)
	}

	return v
}

func renderSnapshot(out io.Writer, format string, state authstore.State, snap authstore.Snapshot) error {
	v := newWhoAmIView(state, snap)

	switch format {
	case OutputYAML:
		b, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding output: %w", err)
		}
		_, err = fmt.Fprintf(out, "---\n%s", b)
		return err
	case OutputText, "":
		_, err := io.WriteString(out, renderText(v))
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func renderText(v whoAmIView) string {
	style, ok := stateStyle[v.State]
	if !ok {
		style = valueStyle
	}

	var b strings.Builder
	b.WriteString(style.Render(v.State) + "\n")

	rows := [][2]string{
		{"user", v.UserID},
		{"email", v.Email},
		{"name", v.Name},
		{"roles", strings.Join(v.Roles, ", ")},
		{"expires", v.ExpiresAt},
	}
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-8s", row[0])) + " " + valueStyle.Render(row[1]) + "\n")
	}

	return b.String()
}
