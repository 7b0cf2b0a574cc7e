package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/streamcompare/authsync/internal/provider"
)

const channelSuffix = "auth-events"

// Notice is what crosses process boundaries. It never carries tokens.
type Notice struct {
	Kind   provider.EventKind `json:"kind"`
	UserID string             `json:"userId"`
	At     time.Time          `json:"at"`
}

// Notifier publishes notices to other processes.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Relay publishes and receives notices over a valkey pub/sub channel.
type Relay struct {
	valkey  valkey.Client
	channel string
}

var _ Notifier = (*Relay)(nil)

func NewRelay(valkeyClient valkey.Client, prefix string) *Relay {
	prefix = strings.TrimSuffix(prefix, ":")
	channel := channelSuffix
	if prefix != "" {
		channel = prefix + ":" + channelSuffix
	}

	return &Relay{
		valkey:  valkeyClient,
		channel: channel,
	}
}

func (r *Relay) Channel() string {
	return r.channel
}

func (r *Relay) Notify(ctx context.Context, n Notice) error {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notice: %w", err)
	}

	if err := r.valkey.Do(ctx, r.valkey.B().Publish().Channel(r.channel).Message(valkey.BinaryString(b)).Build()).Error(); err != nil {
		return fmt.Errorf("executing publish command: %w", err)
	}

	return nil
}

// Listen blocks, delivering notices to fn until ctx is cancelled.
// Undecodable messages are logged and skipped.
func (r *Relay) Listen(ctx context.Context, fn func(Notice)) error {
	err := r.valkey.Receive(ctx, r.valkey.B().Subscribe().Channel(r.channel).Build(), func(msg valkey.PubSubMessage) {
		var n Notice
		if err := json.Unmarshal([]byte(msg.Message), &n); err != nil {
			slogctx.Warn(ctx, "Dropping undecodable auth notice", "channel", msg.Channel, "error", err)
			return
		}
		fn(n)
	})
	if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return fmt.Errorf("receiving from %s: %w", r.channel, err)
	}

	return nil
}
