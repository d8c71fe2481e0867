package server

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// originPolicy decides which browser origins may open a websocket.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	log      *zap.Logger
}

// newOriginPolicy builds the allow-list. "*" allows every origin; blank and
// unparsable entries are skipped.
func newOriginPolicy(origins []string, log *zap.Logger) *originPolicy {
	p := &originPolicy{
		allowed: make(map[string]struct{}, len(origins)),
		log:     log,
	}
	for _, raw := range origins {
		switch entry := strings.TrimSpace(raw); entry {
		case "":
		case "*":
			p.allowAll = true
		default:
			key, ok := originKey(entry)
			if !ok {
				log.Warn("ignoring invalid origin in configuration", zap.String("origin", raw))
				continue
			}
			p.allowed[key] = struct{}{}
		}
	}
	return p
}

// originKey reduces an origin to its lower-cased scheme://host form.
func originKey(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}

// allows reports whether r may be upgraded. Requests without an Origin
// header come from non-browser clients and are accepted.
func (p *originPolicy) allows(r *http.Request) bool {
	values, present := r.Header["Origin"]
	switch {
	case !present:
		return true
	case p.allowAll:
		return true
	case len(values) == 0:
		return false
	}

	key, ok := originKey(values[0])
	if !ok {
		return false
	}
	_, exists := p.allowed[key]
	return exists
}

func (p *originPolicy) checkOrigin(r *http.Request) bool {
	if p.allows(r) {
		return true
	}
	p.log.Warn("blocked websocket connection from disallowed origin", zap.String("origin", r.Header.Get("Origin")))
	return false
}
