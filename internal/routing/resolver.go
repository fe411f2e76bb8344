// Package routing maps recipient local-parts to destination queues.
// Recipients addressed as _app@domain select the route registered for
// "app"; everything else falls through to the default queue.
package routing

import (
	"sort"
	"strings"

	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/errs"
	"github.com/ignite/mailflow/internal/model"
	"github.com/ignite/mailflow/internal/pkg/logger"
)

// DefaultApp names the catch-all destination for unrecognized apps and
// emails with no routable recipients.
const DefaultApp = "default"

// Destination is one routing decision: the app that matched and the
// queue its envelope goes to.
type Destination struct {
	App      string
	QueueURL string
	Domain   string // recipient domain that produced the decision
}

// ExtractAppName returns the app encoded in an address local-part, or
// ok=false when the local-part does not carry the underscore prefix.
// "_billing@acme.com" → ("billing", true).
func ExtractAppName(address string) (string, bool) {
	at := strings.Index(address, "@")
	if at <= 0 {
		return "", false
	}
	local := address[:at]
	if !strings.HasPrefix(local, "_") || len(local) == 1 {
		return "", false
	}
	return local[1:], true
}

// Resolver resolves app names to queue URLs. Pure given its config:
// the same email always yields the same destinations.
type Resolver struct {
	cfg config.RoutingConfig
}

// NewResolver builds a resolver over an immutable routing config.
func NewResolver(cfg config.RoutingConfig) *Resolver {
	return &Resolver{cfg: cfg}
}

// lookup resolves a single app name: exact route first, then alias
// scan, then the default queue under the "default" app name.
func (r *Resolver) lookup(app string) (Destination, error) {
	if route, ok := r.cfg.Routes[app]; ok && route.Enabled {
		return Destination{App: app, QueueURL: route.QueueURL}, nil
	}

	// Alias scan in deterministic order
	names := make([]string, 0, len(r.cfg.Routes))
	for name := range r.cfg.Routes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		route := r.cfg.Routes[name]
		if !route.Enabled {
			continue
		}
		for _, alias := range route.Aliases {
			if strings.EqualFold(alias, app) {
				return Destination{App: name, QueueURL: route.QueueURL}, nil
			}
		}
	}

	if r.cfg.DefaultQueueURL != "" {
		logger.Warn("no route for app, using default queue", "app", app)
		return Destination{App: DefaultApp, QueueURL: r.cfg.DefaultQueueURL}, nil
	}
	return Destination{}, errs.New(errs.Routing, "no route for app %q and no default queue", app)
}

// Resolve computes the destinations for a parsed email by scanning its
// to, cc, and bcc recipients. Always returns at least one destination
// when a default queue is configured.
func (r *Resolver) Resolve(email *model.Email) ([]Destination, error) {
	type match struct {
		app    string
		domain string
	}

	var matches []match
	seen := make(map[string]bool)
	for _, group := range [][]model.EmailAddress{email.To, email.Cc, email.Bcc} {
		for _, addr := range group {
			app, ok := ExtractAppName(addr.Address)
			if !ok || seen[app] {
				continue
			}
			seen[app] = true
			matches = append(matches, match{app: app, domain: addr.Domain()})
		}
	}

	if len(matches) == 0 {
		if r.cfg.DefaultQueueURL == "" {
			return nil, errs.New(errs.Routing, "no routable recipients and no default queue")
		}
		domain := ""
		if len(email.To) > 0 {
			domain = email.To[0].Domain()
		}
		return []Destination{{App: DefaultApp, QueueURL: r.cfg.DefaultQueueURL, Domain: domain}}, nil
	}

	destinations := make([]Destination, 0, len(matches))
	for _, m := range matches {
		dest, err := r.lookup(m.app)
		if err != nil {
			return nil, err
		}
		dest.Domain = m.domain
		destinations = append(destinations, dest)
	}
	return destinations, nil
}
