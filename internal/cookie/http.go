package cookie

import (
	"context"
	"net/http"
	"slices"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/streamcompare/authsync/internal/middleware/request"
	"github.com/streamcompare/authsync/internal/middleware/responsewriter"
	"github.com/streamcompare/authsync/internal/serviceerr"
)

type stagedState int

const (
	notStaged stagedState = iota
	stagedSet
	stagedRemoved
)

// httpStore backs both HTTP variants. Either side may be nil.
type httpStore struct {
	ctx context.Context
	req *http.Request
	w   http.ResponseWriter
}

var _ Store = (*httpStore)(nil)

// FromContext returns the headers-style ambient store for the current request.
// Without a request in ctx (static rendering, background jobs) it behaves as
// an empty, read-only store.
func FromContext(ctx context.Context) Store {
	r, _ := request.RequestFromContext(ctx)
	w, _ := responsewriter.ResponseWriterFromContext(ctx)
	return &httpStore{ctx: ctx, req: r, w: w}
}

// FromPair returns a store over an explicit request/response pair.
// A nil writer makes the store read-only.
func FromPair(r *http.Request, w http.ResponseWriter) Store {
	ctx := context.Background()
	if r != nil {
		ctx = r.Context()
	}
	return &httpStore{ctx: ctx, req: r, w: w}
}

func (s *httpStore) Get(name string) (string, bool) {
	switch value, state := s.staged(name); state {
	case stagedSet:
		return value, true
	case stagedRemoved:
		return "", false
	case notStaged:
	}

	if s.req == nil {
		return "", false
	}

	c, err := s.req.Cookie(name)
	if err != nil {
		return "", false
	}

	return c.Value, true
}

func (s *httpStore) Set(name, value string, opts Options) {
	if s.w == nil {
		slogctx.Warn(s.ctx, "Skipping cookie write without a response", "cookie", name)
		return
	}

	if c, ok := s.w.(responsewriter.Committer); ok && c.Committed() {
		slogctx.Warn(s.ctx, "Skipping cookie write", "cookie", name, "error", serviceerr.ErrImmutableResponse)
		return
	}

	ck := opts.cookie(name, value)
	if err := ck.Valid(); err != nil {
		slogctx.Warn(s.ctx, "Skipping invalid cookie", "cookie", name, "error", err)
		return
	}

	http.SetCookie(s.w, ck)
}

func (s *httpStore) Remove(name string, opts Options) {
	s.Set(name, "", opts.expired())
}

func (s *httpStore) Names() []string {
	seen := make(map[string]bool)
	if s.req != nil {
		for _, c := range s.req.Cookies() {
			seen[c.Name] = true
		}
	}

	for name, c := range s.stagedCookies() {
		seen[name] = !isExpired(c)
	}

	names := make([]string, 0, len(seen))
	for name, present := range seen {
		if present {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	return names
}

// staged looks at cookies already set on the response in this request.
func (s *httpStore) staged(name string) (string, stagedState) {
	c, ok := s.stagedCookies()[name]
	if !ok {
		return "", notStaged
	}
	if isExpired(c) {
		return "", stagedRemoved
	}
	return c.Value, stagedSet
}

// stagedCookies returns the last Set-Cookie per name.
func (s *httpStore) stagedCookies() map[string]*http.Cookie {
	if s.w == nil {
		return nil
	}

	out := make(map[string]*http.Cookie)
	for _, line := range s.w.Header().Values("Set-Cookie") {
		c, err := http.ParseSetCookie(line)
		if err != nil {
			continue
		}
		out[c.Name] = c
	}

	return out
}

func isExpired(c *http.Cookie) bool {
	return c.MaxAge < 0 || (!c.Expires.IsZero() && !c.Expires.After(time.Now()))
}
