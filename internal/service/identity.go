package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/devsync/internal/domain/identity"
	"github.com/Strob0t/devsync/internal/port/database"
)

// IdentityService maintains the external identity mapping table.
type IdentityService struct {
	store database.TargetStore
}

// NewIdentityService returns an IdentityService.
func NewIdentityService(store database.TargetStore) *IdentityService {
	return &IdentityService{store: store}
}

// IdentitySummary is a mapping row safe to display: both identities are
// truncated.
type IdentitySummary struct {
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// List returns every mapping with truncated identities.
func (s *IdentityService) List(ctx context.Context) ([]IdentitySummary, error) {
	rows, err := s.store.ListIdentityMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list identity mappings: %w", err)
	}
	out := make([]IdentitySummary, len(rows))
	for i, r := range rows {
		out[i] = IdentitySummary{
			Source:    identity.Truncate(r.Source),
			Target:    identity.Truncate(r.Target),
			Label:     r.Label,
			CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

// Map creates or replaces the mapping for m.Source. The resulting table
// must stay one-to-one.
func (s *IdentityService) Map(ctx context.Context, m identity.Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	rows, err := s.store.ListIdentityMappings(ctx)
	if err != nil {
		return fmt.Errorf("list identity mappings: %w", err)
	}
	next := make([]identity.Mapping, 0, len(rows)+1)
	for _, r := range rows {
		if r.Source != m.Source {
			next = append(next, r)
		}
	}
	if _, err := identity.NewExternalMap(append(next, m)); err != nil {
		return err
	}

	if err := s.store.UpsertIdentityMapping(ctx, m); err != nil {
		return err
	}
	slog.Info("identity mapped", "source", identity.Truncate(m.Source), "target", identity.Truncate(m.Target), "label", m.Label)
	return nil
}

// Unmap deletes the mapping for source. Later runs skip that identity's systems.
func (s *IdentityService) Unmap(ctx context.Context, source string) error {
	if err := s.store.DeleteIdentityMapping(ctx, source); err != nil {
		return err
	}
	slog.Info("identity unmapped", "source", identity.Truncate(source))
	return nil
}
