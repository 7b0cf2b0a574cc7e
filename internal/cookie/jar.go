package cookie

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// Jar is an in-memory Store for runtimes without an HTTP exchange,
// such as the CLI client. It is safe for concurrent use.
type Jar struct {
	mu      sync.RWMutex
	cookies map[string]string
}

var _ Store = (*Jar)(nil)

func NewJar() *Jar {
	return &Jar{cookies: make(map[string]string)}
}

func (j *Jar) Get(name string) (string, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	v, ok := j.cookies[name]
	return v, ok
}

func (j *Jar) Set(name, value string, opts Options) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if opts.MaxAge < 0 || (!opts.Expires.IsZero() && !opts.Expires.After(time.Now())) {
		delete(j.cookies, name)
		return
	}
	j.cookies[name] = value
}

func (j *Jar) Remove(name string, opts Options) {
	j.Set(name, "", opts.expired())
}

func (j *Jar) Names() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return slices.Sorted(maps.Keys(j.cookies))
}
