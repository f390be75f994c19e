package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/sirecov/sirecov/records"
	"github.com/ZanzyTHEbar/sirecov/sirecov/store"
)

// Store is the backing-store collaborator the service writes through.
type Store interface {
	ReadSnapshot(ctx context.Context) (store.Batch, error)
	ReadFrom(ctx context.Context, offset int64) (store.Batch, error)
	Append(ctx context.Context, r records.Record) error
	FindByKey(ctx context.Context, key string) (records.Record, bool, error)
}

// Service ties the backing store to a Coordinator: reads rebuild the
// indexes, accepted writes go to the store first and then to every index.
type Service struct {
	store Store
	coord *Coordinator

	mu     sync.Mutex
	offset int64
	loaded bool
	logger zerolog.Logger
}

// NewService creates a service over st and coord.
func NewService(st Store, coord *Coordinator, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		coord:  coord,
		logger: logger.With().Str("component", "service").Logger(),
	}
}

// Coordinator exposes the query surface.
func (s *Service) Coordinator() *Coordinator { return s.coord }

// Load reads the whole store, an unterminated last line included, and
// rebuilds every index from it.
func (s *Service) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Service) loadLocked(ctx context.Context) error {
	batch, err := s.store.ReadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read store: %w", err)
	}
	s.coord.RebuildAll(batch.Records)
	s.offset = batch.Offset
	s.loaded = true
	s.logger.Info().Int("records", len(batch.Records)).Int("skipped", batch.Skipped).Msg("store loaded")
	return nil
}

// Add validates r, rejects it if a record with the same natural key is
// already stored, then appends it to the store and applies it to the
// indexes. The returned record is the normalized form that was stored.
func (s *Service) Add(ctx context.Context, r records.Record) (records.Record, error) {
	r = r.Normalize()
	if err := records.Validate(r); err != nil {
		return records.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return records.Record{}, ErrNotBuilt
	}

	// A negative filter answer is exact; a positive one is confirmed
	// against the store before rejecting.
	if s.coord.MightExist(r) {
		_, found, err := s.store.FindByKey(ctx, r.NaturalKey())
		if err != nil {
			return records.Record{}, fmt.Errorf("failed to check for duplicates: %w", err)
		}
		if found {
			return records.Record{}, fmt.Errorf("%w: %s", store.ErrDuplicateRecord, r.NaturalKey())
		}
		s.logger.Debug().Str("record", r.NaturalKey()).Msg("membership filter false positive")
	}

	if err := s.store.Append(ctx, r); err != nil {
		return records.Record{}, fmt.Errorf("failed to append record: %w", err)
	}
	if err := s.coord.ApplyNewRecord(r); err != nil {
		return records.Record{}, err
	}
	s.logger.Info().Str("record", r.NaturalKey()).Msg("record added")
	return r, nil
}

// Get returns the record with the exact natural key.
func (s *Service) Get(ctx context.Context, country, date, caseType string) (records.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return records.Record{}, false, err
	}
	r, ok := s.coord.FindRecord(country, date, caseType)
	return r, ok, nil
}

// Sync applies records appended to the store by other writers since the
// last Load or Sync. Records already indexed, such as those written by Add,
// are skipped. A truncated store triggers a full reload. It returns the
// number of records applied.
func (s *Service) Sync(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return 0, ErrNotBuilt
	}

	batch, err := s.store.ReadFrom(ctx, s.offset)
	if errors.Is(err, store.ErrStoreTruncated) {
		s.logger.Warn().Err(err).Msg("store truncated, reloading")
		if err := s.loadLocked(ctx); err != nil {
			return 0, err
		}
		return s.coord.Len(), nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read store: %w", err)
	}

	applied := 0
	for _, r := range batch.Records {
		if _, ok := s.coord.FindRecord(r.Country, r.Date, string(r.Type)); ok {
			continue
		}
		if err := s.coord.ApplyNewRecord(r); err != nil {
			s.logger.Warn().Err(err).Str("record", r.String()).Msg("skipping record")
			continue
		}
		applied++
	}
	s.offset = batch.Offset

	if applied > 0 {
		s.logger.Info().Int("applied", applied).Msg("synced new records")
	}
	return applied, nil
}
