package config

import (
	"net/http"

	"github.com/streamcompare/authsync/internal/cookie"
)

func (ct *CookieTemplate) Options() cookie.Options {
	var sameSite http.SameSite
	switch ct.SameSite {
	case CookieSameSiteNone:
		sameSite = http.SameSiteNoneMode
	case CookieSameSiteLax:
		sameSite = http.SameSiteLaxMode
	case CookieSameSiteStrict:
		sameSite = http.SameSiteStrictMode
	}

	return cookie.Options{
		Path:     ct.Path,
		Domain:   ct.Domain,
		MaxAge:   ct.MaxAge,
		Secure:   ct.Secure,
		HTTPOnly: ct.HTTPOnly,
		SameSite: sameSite,
	}
}
