// Package secrets holds the admin credential in memory and swaps it
// atomically when the configuration is reloaded.
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
)

// Credential is the admin credential. Hash is a bcrypt hash and takes
// precedence over Token when both are set.
type Credential struct {
	Token string
	Hash  string
}

// Empty reports whether no credential is configured.
func (c Credential) Empty() bool {
	return c.Token == "" && c.Hash == ""
}

// Loader reads the current credential, typically by reloading configuration.
type Loader func() (Credential, error)

// Vault holds the credential and supports atomic reloading.
type Vault struct {
	mu     sync.RWMutex
	cred   Credential
	loader Loader
}

// NewVault creates a Vault, calling the loader once for the initial value.
func NewVault(loader Loader) (*Vault, error) {
	cred, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial credential load: %w", err)
	}
	return &Vault{cred: cred, loader: loader}, nil
}

// Get returns the current credential.
func (v *Vault) Get() Credential {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cred
}

// Reload calls the loader and swaps in the new credential. On error the
// current credential is kept.
func (v *Vault) Reload() error {
	cred, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload credential: %w", err)
	}
	v.mu.Lock()
	v.cred = cred
	v.mu.Unlock()
	return nil
}

// ReloadOnSignal reloads the credential each time one of sigs arrives,
// until ctx ends.
func (v *Vault) ReloadOnSignal(ctx context.Context, sigs ...os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				if err := v.Reload(); err != nil {
					slog.Error("admin credential reload failed, keeping the current one", "error", err)
					continue
				}
				if v.Get().Empty() {
					slog.Warn("admin credential reloaded but empty, admin routes are closed")
				} else {
					slog.Info("admin credential reloaded")
				}
			}
		}
	}()
}
