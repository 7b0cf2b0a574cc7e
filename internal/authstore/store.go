// Package authstore holds the client side view of the authentication state
// and keeps it in step with the session source's change notifications.
package authstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	slogctx "github.com/veqryn/slog-context"

	"github.com/streamcompare/authsync/internal/provider"
	"github.com/streamcompare/authsync/internal/serviceerr"
)

type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Snapshot is an immutable view of the auth state. User and Session are
// either both nil or both set.
type Snapshot struct {
	User      *provider.User
	Session   *provider.Session
	IsLoading bool
}

// Source is the part of the session source the store consumes.
type Source interface {
	GetSession(ctx context.Context) (*provider.Session, error)
	OnAuthStateChange(fn func(provider.Event)) (provider.Subscription, error)
}

type current struct {
	snap    Snapshot
	state   State
	changed chan struct{}
}

// Store publishes snapshots. Reads are lock free; callback application,
// Start and Close are serialised by mu.
type Store struct {
	source Source
	cur    atomic.Pointer[current]
	done   chan struct{}

	mu      sync.Mutex
	seeded  bool
	started bool
	closed  bool
	sub     provider.Subscription
}

type Option func(*Store)

// WithInitialSession seeds the store with a session resolved elsewhere,
// typically by the server. A nil session seeds an anonymous state.
func WithInitialSession(s *provider.Session) Option {
	return func(st *Store) {
		st.seeded = true
		st.cur.Store(newCurrent(s))
	}
}

func New(source Source, opts ...Option) *Store {
	s := &Store{
		source: source,
		done:   make(chan struct{}),
	}
	s.cur.Store(&current{
		snap:    Snapshot{IsLoading: true},
		state:   StateUninitialized,
		changed: make(chan struct{}),
	})

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start subscribes to change notifications. An unseeded store then asks the
// source for its current session once. If that fails the store settles on
// anonymous, releases the subscription and returns the error.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return serviceerr.ErrClosed
	case s.started:
		s.mu.Unlock()
		return serviceerr.ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	// Subscribing happens outside mu: the source may deliver on this goroutine.
	sub, err := s.source.OnAuthStateChange(s.apply)
	if err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return fmt.Errorf("subscribing to auth state changes: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Unsubscribe()
		return serviceerr.ErrClosed
	}
	s.sub = sub
	load := !s.seeded && s.cur.Load().state == StateUninitialized
	if load {
		s.replace(&current{snap: Snapshot{IsLoading: true}, state: StateLoading})
	}
	s.mu.Unlock()

	if !load {
		return nil
	}

	sess, err := s.source.GetSession(ctx)

	s.mu.Lock()
	// A notification that arrived meanwhile is newer than this answer.
	if !s.closed && s.cur.Load().state == StateLoading {
		if err != nil {
			s.replace(newCurrent(nil))
		} else {
			s.replace(newCurrent(sess))
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.Close()
		return fmt.Errorf("loading initial session: %w", err)
	}

	return nil
}

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() Snapshot {
	return s.cur.Load().snap
}

func (s *Store) State() State {
	return s.cur.Load().state
}

// Changed returns a channel closed when the current snapshot is replaced.
func (s *Store) Changed() <-chan struct{} {
	return s.cur.Load().changed
}

// Done is closed once the store is closed.
func (s *Store) Done() <-chan struct{} {
	return s.done
}

// Close releases the subscription. It is safe to call more than once and no
// snapshot changes after it returns.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	close(s.done)
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

func (s *Store) apply(e provider.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	switch e.Kind {
	case provider.EventSignedIn, provider.EventTokenRefreshed:
		if e.Session == nil {
			return
		}
		s.replace(newCurrent(e.Session))
	case provider.EventSignedOut:
		s.replace(newCurrent(nil))
	case provider.EventInitialSession, provider.EventUserUpdated:
		// user and session are only replaced together
	default:
		slogctx.Debug(context.Background(), "Ignoring unknown auth event", "kind", e.Kind)
	}
}

// replace swaps in next and wakes Changed waiters. Callers hold mu.
func (s *Store) replace(next *current) {
	if next.changed == nil {
		next.changed = make(chan struct{})
	}
	prev := s.cur.Swap(next)
	close(prev.changed)
}

func newCurrent(sess *provider.Session) *current {
	if sess == nil {
		return &current{state: StateAnonymous, changed: make(chan struct{})}
	}

	sc := *sess
	user := sc.User
	return &current{
		snap:    Snapshot{User: &user, Session: &sc},
		state:   StateAuthenticated,
		changed: make(chan struct{}),
	}
}
