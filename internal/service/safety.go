package service

import (
	"os"

	"github.com/Strob0t/devsync/internal/domain/safety"
)

// SafetyGate evaluates the production checks for one deployment. StoreURL
// is the local store this deployment writes to; EnvVar names the variable
// carrying the deployment environment.
type SafetyGate struct {
	Rules    safety.Rules
	StoreURL string
	EnvVar   string
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Evaluate runs every predicate for a request from host. host is empty for
// runs started from the CLI.
func (g *SafetyGate) Evaluate(host string) safety.Verdict {
	getenv := g.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	env := ""
	if g.EnvVar != "" {
		env = getenv(g.EnvVar)
	}
	return g.Rules.Evaluate(safety.Request{Host: host, StoreURL: g.StoreURL, Environment: env})
}

// Check returns domain.ErrUnsafeEnvironment when any predicate fires.
func (g *SafetyGate) Check(host string) error {
	return g.Evaluate(host).Err()
}
