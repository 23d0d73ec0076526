package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/Strob0t/devsync/internal/config"
	"github.com/Strob0t/devsync/internal/domain/identity"
	"github.com/Strob0t/devsync/internal/service"
)

// runAdmin dispatches admin subcommands.
func runAdmin(flags config.CLIFlags, args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "map-identity":
		return runAdminMapIdentity(flags, args[1:])
	case "unmap-identity":
		return runAdminUnmapIdentity(flags, args[1:])
	case "list-identities":
		return runAdminListIdentities(flags, args[1:])
	case "positions":
		return runAdminPositions(flags, args[1:])
	case "hash-token":
		return runAdminHashToken(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: devsync admin <command> [options]

Commands:
  map-identity     Map a production identity onto a local one
  unmap-identity   Remove the mapping of a production identity
  list-identities  List identity mappings (truncated)
  positions        Show the persisted sync positions
  hash-token       Print a bcrypt hash for DEVSYNC_ADMIN_TOKEN_HASH
  help             Show this help message

Identities are read from the terminal when not given as flags, so they do
not end up in the shell history.

Examples:
  devsync admin map-identity --label "alice laptop"
  devsync admin map-identity --source user_2abc --target user_9xyz
  devsync admin unmap-identity
  devsync admin list-identities
  devsync admin hash-token
`)
}

// loadAdminDeps connects the local store after the production checks pass.
func loadAdminDeps(flags config.CLIFlags) (*service.IdentityService, *service.SyncService, func(), error) {
	cfg, _, err := config.LoadWithCLI(flags)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	gate := newGate(cfg)
	if err := gate.Check(""); err != nil {
		return nil, nil, nil, err
	}

	store, cleanup, err := newStore(context.Background(), cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	syncSvc := service.NewSyncService(store, service.NewOrchestrator(nil, nil), gate,
		service.SyncOptions{}, nil, nil, nil, nil)
	return service.NewIdentityService(store), syncSvc, cleanup, nil
}

func runAdminMapIdentity(flags config.CLIFlags, args []string) error {
	fs := flag.NewFlagSet("map-identity", flag.ContinueOnError)
	source := fs.String("source", "", "production identity (prompted if not provided)")
	target := fs.String("target", "", "local identity (prompted if not provided)")
	label := fs.String("label", "", "free-form note shown in listings")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m := identity.Mapping{Source: *source, Target: *target, Label: *label}
	var err error
	if m.Source == "" {
		if m.Source, err = promptSecret("Production identity: "); err != nil {
			return fmt.Errorf("read identity: %w", err)
		}
	}
	if m.Target == "" {
		if m.Target, err = promptSecret("Local identity: "); err != nil {
			return fmt.Errorf("read identity: %w", err)
		}
	}

	ids, _, cleanup, err := loadAdminDeps(flags)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := ids.Map(context.Background(), m); err != nil {
		return fmt.Errorf("map identity: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Mapped %s -> %s\n", identity.Truncate(m.Source), identity.Truncate(m.Target))
	return nil
}

func runAdminUnmapIdentity(flags config.CLIFlags, args []string) error {
	fs := flag.NewFlagSet("unmap-identity", flag.ContinueOnError)
	source := fs.String("source", "", "production identity (prompted if not provided)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	src := *source
	if src == "" {
		var err error
		if src, err = promptSecret("Production identity: "); err != nil {
			return fmt.Errorf("read identity: %w", err)
		}
	}

	ids, _, cleanup, err := loadAdminDeps(flags)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := ids.Unmap(context.Background(), src); err != nil {
		return fmt.Errorf("unmap identity: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Unmapped %s\n", identity.Truncate(src))
	return nil
}

func runAdminListIdentities(flags config.CLIFlags, args []string) error {
	fs := flag.NewFlagSet("list-identities", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ids, _, cleanup, err := loadAdminDeps(flags)
	if err != nil {
		return err
	}
	defer cleanup()

	rows, err := ids.List(context.Background())
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("No identity mappings.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tTARGET\tLABEL\tCREATED")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Source, r.Target, r.Label, formatTime(r.CreatedAt))
	}
	return w.Flush()
}

func runAdminPositions(flags config.CLIFlags, args []string) error {
	fs := flag.NewFlagSet("positions", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	_, syncSvc, cleanup, err := loadAdminDeps(flags)
	if err != nil {
		return err
	}
	defer cleanup()

	positions, err := syncSvc.Positions(context.Background())
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		fmt.Println("No sync positions recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TABLE\tLAST_SYNCED\tUPDATED")
	for _, p := range positions {
		last := p.LastSyncedDay
		if p.LastSyncedAt != nil {
			last = formatTime(*p.LastSyncedAt)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", p.Table, last, formatTime(p.UpdatedAt))
	}
	return w.Flush()
}

func runAdminHashToken(args []string) error {
	fs := flag.NewFlagSet("hash-token", flag.ContinueOnError)
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return err
	}

	token, err := promptSecret("Admin token: ")
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	confirm, err := promptSecret("Confirm token: ")
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if token != confirm {
		return fmt.Errorf("tokens do not match")
	}
	if token == "" {
		return fmt.Errorf("token must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), *cost)
	if err != nil {
		return fmt.Errorf("hash token: %w", err)
	}
	fmt.Println(string(hash))
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// promptSecret reads a value from the terminal without echoing.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
