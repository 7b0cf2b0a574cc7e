package business

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/streamcompare/authsync/internal/business/server"
	"github.com/streamcompare/authsync/internal/config"
	"github.com/streamcompare/authsync/internal/diagnostics"
	"github.com/streamcompare/authsync/internal/profile"
	"github.com/streamcompare/authsync/internal/profile/profilesql"
	"github.com/streamcompare/authsync/internal/provider"
	"github.com/streamcompare/authsync/internal/provider/events"
	"github.com/streamcompare/authsync/internal/provider/gotrue"
	"github.com/streamcompare/authsync/internal/session"
	"github.com/streamcompare/authsync/internal/verifier"
)

// Main starts the public HTTP API server.
func Main(ctx context.Context, cfg *config.Config) error {
	services, closeFn, err := initServices(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising services: %w", err)
	}

	defer closeFn()

	return server.StartHTTPServer(ctx, cfg, services)
}

func initServices(ctx context.Context, cfg *config.Config) (_ *server.Services, closeFn func(), _ error) {
	var closers []func()
	closeFn = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	holder := NewAPIHolder(cfg)
	if _, err := holder.Get(); err != nil {
		return nil, nil, fmt.Errorf("creating session source api: %w", err)
	}

	opts := []session.Option{}

	var (
		profiles profile.Repository
		dbPinger diagnostics.Pinger
	)
	if cfg.Database.Name != "" {
		db, err := newDBPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, db.Close)

		profiles = profilesql.NewRepository(db)
		dbPinger = db
		opts = append(opts, session.WithProfiles(profiles))
	} else {
		slogctx.Warn(ctx, "No database configured, profiles and role checks are disabled")
	}

	if cfg.ValKey.Enabled {
		valkeyClient, err := NewValkeyClient(cfg.ValKey)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		closers = append(closers, valkeyClient.Close)

		opts = append(opts, session.WithNotifier(events.NewRelay(valkeyClient, cfg.ValKey.Prefix)))
	}

	auditLogger, err := otlpaudit.NewLogger(&cfg.Audit)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("creating audit logger: %w", err)
	}
	opts = append(opts, session.WithAuditLogger(auditLogger, cfg.SessionSource.ProjectRef))

	manager := session.NewManager(holder, opts...)
	v := verifier.New(manager.ProviderClient)

	return &server.Services{
		Sessions: manager,
		Verifier: v,
		Profiles: profiles,
		Probe:    diagnostics.NewProbe(v.CheckStore, cfg.SessionSource.CookiePrefix),
		Health: diagnostics.NewHealth(cfg.Health.CacheTTL,
			diagnostics.WithService(diagnostics.ServiceDatabase, dbPinger),
			diagnostics.WithService(diagnostics.ServiceSessionSource, manager),
		),
	}, closeFn, nil
}

// NewAPIHolder returns the lazily built session source API of this process.
func NewAPIHolder(cfg *config.Config) *provider.Holder[*gotrue.API] {
	return provider.NewHolder(func() (*gotrue.API, error) {
		return newSessionSourceAPI(cfg)
	})
}

func newSessionSourceAPI(cfg *config.Config) (*gotrue.API, error) {
	apiKey, err := commoncfg.LoadValueFromSourceRef(cfg.SessionSource.APIKey)
	if err != nil {
		return nil, fmt.Errorf("loading session source api key: %w", err)
	}

	httpClient, err := loadHTTPClient(cfg.SessionSource)
	if err != nil {
		return nil, fmt.Errorf("loading http client: %w", err)
	}

	return gotrue.NewAPI(gotrue.Config{
		URL:           cfg.SessionSource.URL,
		APIKey:        string(apiKey),
		ProjectRef:    cfg.SessionSource.ProjectRef,
		CookiePrefix:  cfg.SessionSource.CookiePrefix,
		CookieOptions: cfg.Cookies.Session.Options(),
		ChunkSize:     cfg.Cookies.ChunkSize,
		RefreshMargin: cfg.SessionSource.RefreshMargin,
		HTTPClient:    httpClient,
	})
}

func loadHTTPClient(cfg config.SessionSource) (*http.Client, error) {
	if cfg.MTLS == nil {
		return &http.Client{Timeout: cfg.Timeout}, nil
	}

	tlsConfig, err := commoncfg.LoadMTLSConfig(cfg.MTLS)
	if err != nil {
		return nil, fmt.Errorf("loading mTLS config: %w", err)
	}

	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
		},
	}, nil
}

func newDBPool(ctx context.Context, cfg config.Database) (*pgxpool.Pool, error) {
	connStr, err := config.MakeConnStr(cfg)
	if err != nil {
		return nil, fmt.Errorf("making dsn from config: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing pgxpool config: %w", err)
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("initialising pgxpool connection: %w", err)
	}

	if err := otelpgx.RecordStats(db); err != nil {
		slogctx.Warn(ctx, "Failed to record pgxpool stats", "error", err)
	}

	return db, nil
}

// NewValkeyClient connects to the auth event relay.
func NewValkeyClient(cfg config.ValKey) (valkey.Client, error) {
	valkeyHost, err := commoncfg.LoadValueFromSourceRef(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("loading valkey host: %w", err)
	}
	if len(valkeyHost) == 0 {
		return nil, errors.New("valkey host is empty")
	}

	valkeyUsername, err := commoncfg.LoadValueFromSourceRef(cfg.User)
	if err != nil {
		return nil, fmt.Errorf("loading valkey username: %w", err)
	}

	valkeyPassword, err := commoncfg.LoadValueFromSourceRef(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("loading valkey password: %w", err)
	}

	valkeyOpts := valkey.ClientOption{
		InitAddress: []string{string(valkeyHost)},
		Username:    string(valkeyUsername),
		Password:    string(valkeyPassword),
	}

	if cfg.MTLS != nil {
		tlsConfig, err := commoncfg.LoadMTLSConfig(cfg.MTLS)
		if err != nil {
			return nil, fmt.Errorf("loading valkey mTLS config: %w", err)
		}

		valkeyOpts.TLSConfig = tlsConfig
	}

	valkeyClient, err := valkey.NewClient(valkeyOpts)
	if err != nil {
		return nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	return valkeyClient, nil
}
