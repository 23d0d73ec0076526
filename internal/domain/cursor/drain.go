package cursor

import (
	"context"
	"fmt"
	"time"

	"github.com/Strob0t/devsync/internal/domain"
	"github.com/Strob0t/devsync/internal/domain/pipeline"
)

// TimePager fetches timestamp-ordered pages of one source table.
type TimePager[T any] interface {
	FetchTime(ctx context.Context, pos TimePosition, limit int) ([]T, error)
	Stamp(row T) time.Time
}

// CompositePager fetches (major, minor)-ordered pages of one source table.
type CompositePager[T any] interface {
	FetchComposite(ctx context.Context, pos CompositePosition, limit int) ([]T, error)
	Key(row T) CompositePosition
}

// Sink consumes each fetched batch before the next fetch is issued.
type Sink[T any] interface {
	Consume(ctx context.Context, batch []T) error
}

// DrainTime fetches pages until the source is exhausted, handing each batch
// to sink. The signal is polled before every fetch; a cancelled drain
// returns domain.ErrCancelled after the current batch has been consumed.
// It returns the number of rows fetched.
func DrainTime[T any](ctx context.Context, sig pipeline.Signal, c *TimeCursor, src TimePager[T], sink Sink[T]) (int64, error) {
	var total int64
	for {
		if sig != nil && sig.Cancelled() {
			return total, domain.ErrCancelled
		}

		batch, err := src.FetchTime(ctx, c.Position(), c.PageSize())
		if err != nil {
			return total, fmt.Errorf("fetch page: %w", err)
		}

		stamps := make([]time.Time, len(batch))
		for i, row := range batch {
			stamps[i] = src.Stamp(row)
		}
		done, err := c.Advance(stamps)
		if err != nil {
			return total, err
		}
		if done {
			return total, nil
		}

		if err := sink.Consume(ctx, batch); err != nil {
			return total, err
		}
		total += int64(len(batch))
	}
}

// DrainComposite is DrainTime for composite-key cursors.
func DrainComposite[T any](ctx context.Context, sig pipeline.Signal, c *CompositeCursor, src CompositePager[T], sink Sink[T]) (int64, error) {
	var total int64
	for {
		if sig != nil && sig.Cancelled() {
			return total, domain.ErrCancelled
		}

		batch, err := src.FetchComposite(ctx, c.Position(), c.PageSize())
		if err != nil {
			return total, fmt.Errorf("fetch page: %w", err)
		}

		keys := make([]CompositePosition, len(batch))
		for i, row := range batch {
			keys[i] = src.Key(row)
		}
		done, err := c.Advance(keys)
		if err != nil {
			return total, err
		}
		if done {
			return total, nil
		}

		if err := sink.Consume(ctx, batch); err != nil {
			return total, err
		}
		total += int64(len(batch))
	}
}
