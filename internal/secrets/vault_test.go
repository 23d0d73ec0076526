package secrets_test

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/Strob0t/devsync/internal/secrets"
)

func TestNewVault_InitialLoad(t *testing.T) {
	v, err := secrets.NewVault(func() (secrets.Credential, error) {
		return secrets.Credential{Token: "tok"}, nil
	})
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}
	if got := v.Get(); got.Token != "tok" || got.Hash != "" {
		t.Fatalf("Get() = %+v", got)
	}
}

func TestNewVault_LoaderError(t *testing.T) {
	_, err := secrets.NewVault(func() (secrets.Credential, error) {
		return secrets.Credential{}, errors.New("config unreadable")
	})
	if err == nil {
		t.Fatal("expected error from failing loader")
	}
}

func TestVault_Reload(t *testing.T) {
	calls := 0
	v, _ := secrets.NewVault(func() (secrets.Credential, error) {
		calls++
		if calls == 1 {
			return secrets.Credential{Token: "old"}, nil
		}
		return secrets.Credential{Hash: "$2a$10$new"}, nil
	})

	if err := v.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if got := v.Get(); got.Token != "" || got.Hash != "$2a$10$new" {
		t.Fatalf("after reload Get() = %+v", got)
	}
}

func TestVault_ReloadErrorKeepsCredential(t *testing.T) {
	calls := 0
	v, _ := secrets.NewVault(func() (secrets.Credential, error) {
		calls++
		if calls == 1 {
			return secrets.Credential{Token: "original"}, nil
		}
		return secrets.Credential{}, errors.New("yaml: bad indentation")
	})

	if err := v.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if got := v.Get().Token; got != "original" {
		t.Fatalf("Token = %q, want original", got)
	}
}

func TestVault_ConcurrentAccess(t *testing.T) {
	v, _ := secrets.NewVault(func() (secrets.Credential, error) {
		return secrets.Credential{Token: "tok"}, nil
	})

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = v.Get()
		}()
		go func() {
			defer wg.Done()
			_ = v.Reload()
		}()
	}
	wg.Wait()
}

func TestVault_ReloadOnSignal(t *testing.T) {
	reloaded := make(chan struct{}, 1)
	calls := 0
	var mu sync.Mutex
	v, _ := secrets.NewVault(func() (secrets.Credential, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls > 1 {
			select {
			case reloaded <- struct{}{}:
			default:
			}
			return secrets.Credential{Token: "rotated"}, nil
		}
		return secrets.Credential{Token: "initial"}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v.ReloadOnSignal(ctx, syscall.SIGUSR1)

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatal(err)
	}
	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("credential was not reloaded")
	}

	deadline := time.Now().Add(time.Second)
	for v.Get().Token != "rotated" {
		if time.Now().After(deadline) {
			t.Fatalf("Token = %q, want rotated", v.Get().Token)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCredentialEmpty(t *testing.T) {
	if !(secrets.Credential{}).Empty() {
		t.Error("zero credential should be empty")
	}
	if (secrets.Credential{Hash: "h"}).Empty() {
		t.Error("credential with hash should not be empty")
	}
}
