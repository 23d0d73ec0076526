// Package safety implements the pre-run production checks. Every predicate
// is evaluated independently and any single hit rejects the run.
package safety

import (
	"fmt"
	"net"
	"path"
	"strings"

	"github.com/Strob0t/devsync/internal/domain"
)

// ProductionEnvironment is the deployment signal value that always rejects.
const ProductionEnvironment = "production"

// Rules are the production markers a deployment is configured with.
type Rules struct {
	// ProductionHosts are case-insensitive path.Match patterns such as
	// "*.example.com" matched against the request host without port.
	ProductionHosts []string
	// ProductionIdentifiers are case-insensitive substrings that identify a
	// production database in a connection URL (host names, database names).
	ProductionIdentifiers []string
}

// Request carries the facts checked before a run. Host is empty when the
// run is not triggered over HTTP.
type Request struct {
	Host        string
	StoreURL    string
	Environment string
}

// Verdict is the outcome of Evaluate. Reasons never include the store URL.
type Verdict struct {
	Reasons []string
}

// Allowed reports whether no predicate fired.
func (v Verdict) Allowed() bool { return len(v.Reasons) == 0 }

// Err returns nil when allowed, otherwise domain.ErrUnsafeEnvironment
// wrapped with the reasons.
func (v Verdict) Err() error {
	if v.Allowed() {
		return nil
	}
	return fmt.Errorf("%w: %s", domain.ErrUnsafeEnvironment, strings.Join(v.Reasons, "; "))
}

// Evaluate runs every predicate against req.
func (r Rules) Evaluate(req Request) Verdict {
	var v Verdict
	if p, ok := r.matchHost(req.Host); ok {
		v.Reasons = append(v.Reasons, fmt.Sprintf("request host matches production pattern %q", p))
	}
	if id, ok := r.matchStore(req.StoreURL); ok {
		v.Reasons = append(v.Reasons, fmt.Sprintf("store URL contains production identifier %q", id))
	}
	if strings.EqualFold(strings.TrimSpace(req.Environment), ProductionEnvironment) {
		v.Reasons = append(v.Reasons, "deployment environment is production")
	}
	return v
}

func (r Rules) matchHost(host string) (string, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return "", false
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	for _, p := range r.ProductionHosts {
		pattern := strings.ToLower(strings.TrimSpace(p))
		if pattern == "" {
			continue
		}
		if ok, err := path.Match(pattern, host); err == nil && ok {
			return p, true
		}
	}
	return "", false
}

func (r Rules) matchStore(storeURL string) (string, bool) {
	u := strings.ToLower(storeURL)
	if u == "" {
		return "", false
	}
	for _, id := range r.ProductionIdentifiers {
		needle := strings.ToLower(strings.TrimSpace(id))
		if needle != "" && strings.Contains(u, needle) {
			return id, true
		}
	}
	return "", false
}
