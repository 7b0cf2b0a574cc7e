// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	Database      Database      `yaml:"database"`
	ValKey        ValKey        `yaml:"valkey"`
	Migrate       Migrate       `yaml:"migrate"`
	SessionSource SessionSource `yaml:"sessionSource"`
	Cookies       Cookies       `yaml:"cookies"`
	Verifier      Verifier      `yaml:"verifier"`
	Diagnostics   Diagnostics   `yaml:"diagnostics"`
	Health        Health        `yaml:"health"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

type Database struct {
	Name     string              `yaml:"name"`
	Port     string              `yaml:"port"`
	SSLMode  string              `yaml:"sslMode" default:"require"`
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
}

// ValKey configures the auth event relay. The relay is disabled when Enabled is false.
type ValKey struct {
	Enabled  bool                `yaml:"enabled"`
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
	Prefix   string              `yaml:"prefix" default:"authsync"`
	MTLS     *commoncfg.MTLS     `yaml:"mtls"`
}

type Migrate struct {
	// Version to migrate up to. Zero applies every pending migration.
	Version int64 `yaml:"version"`
}

// SessionSource points at the hosted auth API.
type SessionSource struct {
	URL    string              `yaml:"url"`
	APIKey commoncfg.SourceRef `yaml:"apiKey"`
	// ProjectRef names the session cookie. Derived from the URL host when empty.
	ProjectRef          string        `yaml:"projectRef"`
	CookiePrefix        string        `yaml:"cookiePrefix" default:"sb-"`
	Timeout             time.Duration `yaml:"timeout" default:"10s"`
	RefreshMargin       time.Duration `yaml:"refreshMargin" default:"60s"`
	AutoRefreshInterval time.Duration `yaml:"autoRefreshInterval" default:"30s"`
	// MTLS authenticates the client to the auth API when set.
	MTLS *commoncfg.MTLS `yaml:"mtls"`
}

type Cookies struct {
	Session   CookieTemplate `yaml:"session"`
	ChunkSize int            `yaml:"chunkSize" default:"3180"`
}

type Verifier struct {
	SignInPath    string `yaml:"signInPath" default:"/login"`
	RedirectParam string `yaml:"redirectParam" default:"next"`
	AdminRole     string `yaml:"adminRole" default:"admin"`
}

// Diagnostics controls the debug-only probe endpoints.
type Diagnostics struct {
	Enabled bool `yaml:"enabled"`
}

type Health struct {
	CacheTTL time.Duration `yaml:"cacheTTL" default:"5s"`
}

type CookieSameSite string

const (
	CookieSameSiteNone   CookieSameSite = "None"
	CookieSameSiteLax    CookieSameSite = "Lax"
	CookieSameSiteStrict CookieSameSite = "Strict"
)

// CookieTemplate holds the attributes of a cookie without its name and value.
type CookieTemplate struct {
	Path     string         `yaml:"path" default:"/"`
	Domain   string         `yaml:"domain"`
	MaxAge   int            `yaml:"maxAge" default:"34560000"`
	Secure   bool           `yaml:"secure" default:"true"`
	HTTPOnly bool           `yaml:"httpOnly"`
	SameSite CookieSameSite `yaml:"sameSite" default:"Lax"`
}
