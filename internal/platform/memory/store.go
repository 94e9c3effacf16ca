// Package memory provides in-process implementations of the store interfaces.
// It backs the database.driver=memory development mode and the service tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/store"
)

// DB holds all records. The sub-stores returned by its accessors share it.
type DB struct {
	mu          sync.RWMutex
	txMu        sync.Mutex
	conversions map[uuid.UUID]*domain.Conversion
	outputs     map[uuid.UUID][]*domain.Output
	usage       map[uuid.UUID]*domain.UsageCounter
	plans       map[uuid.UUID]string
	now         func() time.Time
}

// NewDB creates an empty in-memory database.
func NewDB() *DB {
	return &DB{
		conversions: make(map[uuid.UUID]*domain.Conversion),
		outputs:     make(map[uuid.UUID][]*domain.Output),
		usage:       make(map[uuid.UUID]*domain.UsageCounter),
		plans:       make(map[uuid.UUID]string),
		now:         time.Now,
	}
}

// Stores returns every store backed by db.
func (db *DB) Stores() store.Stores {
	return store.Stores{
		Conversions: &ConversionStore{db: db},
		Outputs:     &OutputStore{db: db},
		Usage:       &UsageStore{db: db},
		Accounts:    &AccountStore{db: db},
	}
}

// SetPlan records the plan for a user, standing in for the billing integration.
func (db *DB) SetPlan(userID uuid.UUID, plan string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.plans[userID] = plan
}

// SetUsage overwrites a user's counter for the current period.
func (db *DB) SetUsage(userID uuid.UUID, used int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	now := db.now()
	db.usage[userID] = &domain.UsageCounter{
		UserID:          userID,
		ConversionsUsed: used,
		PeriodStart:     domain.BillingPeriodStart(now),
		UpdatedAt:       now,
	}
}

type journalKey struct{}

// journal collects undo actions for the transaction in progress.
type journal struct {
	undo []func()
}

func (db *DB) record(ctx context.Context, undo func()) {
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.undo = append(j.undo, undo)
	}
}

// RunInTx implements store.TxRunner. Transactions are serialized with each
// other; writes made through the context passed to fn are undone in reverse
// order when fn fails or panics. Writes outside any transaction are not
// isolated from a running one.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, s store.Stores) error) (err error) {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	j := &journal{}
	txCtx := context.WithValue(ctx, journalKey{}, j)

	rollback := func() {
		db.mu.Lock()
		defer db.mu.Unlock()
		for i := len(j.undo) - 1; i >= 0; i-- {
			j.undo[i]()
		}
	}

	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
	}()

	if err = fn(txCtx, db.Stores()); err != nil {
		rollback()
	}
	return err
}

var _ store.TxRunner = (*DB)(nil)

// ConversionStore implements store.ConversionStore.
type ConversionStore struct{ db *DB }

var _ store.ConversionStore = (*ConversionStore)(nil)

func copyConversion(c *domain.Conversion) *domain.Conversion {
	cp := *c
	cp.Topics = slices.Clone(c.Topics)
	cp.SourceMetadata = maps.Clone(c.SourceMetadata)
	if c.ErrorMessage != nil {
		msg := *c.ErrorMessage
		cp.ErrorMessage = &msg
	}
	if c.StartedAt != nil {
		t := *c.StartedAt
		cp.StartedAt = &t
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Create implements store.ConversionStore.
func (s *ConversionStore) Create(ctx context.Context, c *domain.Conversion) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, exists := s.db.conversions[c.ID]; exists {
		return store.NewStoreError("conversion", "create", "duplicate id", store.ErrDuplicate)
	}
	s.db.conversions[c.ID] = copyConversion(c)
	s.db.record(ctx, func() { delete(s.db.conversions, c.ID) })
	return nil
}

// GetByID implements store.ConversionStore.
func (s *ConversionStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Conversion, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	c, ok := s.db.conversions[id]
	if !ok {
		return nil, store.ErrConversionNotFound
	}
	return copyConversion(c), nil
}

// ClaimPending implements store.ConversionStore.
func (s *ConversionStore) ClaimPending(
	ctx context.Context,
	id uuid.UUID,
	startedAt time.Time,
) (*domain.Conversion, bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.conversions[id]
	if !ok {
		return nil, false, store.ErrConversionNotFound
	}
	if c.Status != domain.StatusPending {
		return copyConversion(c), false, nil
	}

	prev := copyConversion(c)
	c.Status = domain.StatusProcessing
	t := startedAt
	c.StartedAt = &t
	s.db.record(ctx, func() { s.db.conversions[id] = prev })
	return copyConversion(c), true, nil
}

func (s *ConversionStore) finish(
	ctx context.Context,
	id uuid.UUID,
	status domain.ConversionStatus,
	message *string,
	completedAt time.Time,
) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.conversions[id]
	if !ok {
		return store.ErrConversionNotFound
	}
	if c.Status != domain.StatusProcessing {
		return store.ErrStatusConflict
	}

	prev := copyConversion(c)
	c.Status = status
	c.ErrorMessage = message
	t := completedAt
	c.CompletedAt = &t
	s.db.record(ctx, func() { s.db.conversions[id] = prev })
	return nil
}

// MarkCompleted implements store.ConversionStore.
func (s *ConversionStore) MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	return s.finish(ctx, id, domain.StatusCompleted, nil, completedAt)
}

// MarkFailed implements store.ConversionStore.
func (s *ConversionStore) MarkFailed(ctx context.Context, id uuid.UUID, message string, completedAt time.Time) error {
	return s.finish(ctx, id, domain.StatusFailed, &message, completedAt)
}

// FailStaleProcessing implements store.ConversionStore.
func (s *ConversionStore) FailStaleProcessing(
	ctx context.Context,
	startedBefore time.Time,
	message string,
	completedAt time.Time,
) ([]uuid.UUID, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var ids []uuid.UUID
	for id, c := range s.db.conversions {
		if c.Status != domain.StatusProcessing || c.StartedAt == nil || !c.StartedAt.Before(startedBefore) {
			continue
		}
		prev := copyConversion(c)
		msg := message
		t := completedAt
		c.Status = domain.StatusFailed
		c.ErrorMessage = &msg
		c.CompletedAt = &t
		s.db.record(ctx, func() { s.db.conversions[prev.ID] = prev })
		ids = append(ids, id)
	}
	return ids, nil
}

// FindPendingOlderThan implements store.ConversionStore.
func (s *ConversionStore) FindPendingOlderThan(
	_ context.Context,
	createdBefore time.Time,
	limit int,
) ([]uuid.UUID, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var pending []*domain.Conversion
	for _, c := range s.db.conversions {
		if c.Status == domain.StatusPending && c.CreatedAt.Before(createdBefore) {
			pending = append(pending, c)
		}
	}
	slices.SortFunc(pending, func(a, b *domain.Conversion) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	ids := make([]uuid.UUID, 0, len(pending))
	for _, c := range pending {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// OutputStore implements store.OutputStore.
type OutputStore struct{ db *DB }

var _ store.OutputStore = (*OutputStore)(nil)

// CreateIfAbsent implements store.OutputStore.
func (s *OutputStore) CreateIfAbsent(ctx context.Context, o *domain.Output) (bool, error) {
	if err := o.Validate(); err != nil {
		return false, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.conversions[o.ConversionID]; !ok {
		return false, store.NewStoreError("output", "create", "unknown conversion", store.ErrInvalidEntity)
	}
	for _, existing := range s.db.outputs[o.ConversionID] {
		if existing.Format == o.Format && existing.Version == o.Version {
			return false, nil
		}
	}

	cp := *o
	s.db.outputs[o.ConversionID] = append(s.db.outputs[o.ConversionID], &cp)
	s.db.record(ctx, func() {
		list := s.db.outputs[o.ConversionID]
		s.db.outputs[o.ConversionID] = slices.DeleteFunc(list, func(x *domain.Output) bool { return x == &cp })
	})
	return true, nil
}

// ListByConversion implements store.OutputStore.
func (s *OutputStore) ListByConversion(_ context.Context, conversionID uuid.UUID) ([]*domain.Output, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	list := s.db.outputs[conversionID]
	result := make([]*domain.Output, 0, len(list))
	for _, o := range list {
		cp := *o
		result = append(result, &cp)
	}
	slices.SortStableFunc(result, func(a, b *domain.Output) int {
		if d := a.Format.Index() - b.Format.Index(); d != 0 {
			return d
		}
		return a.Version - b.Version
	})
	return result, nil
}

// DeleteFirstPass implements store.OutputStore.
func (s *OutputStore) DeleteFirstPass(ctx context.Context, conversionID uuid.UUID) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	before := s.db.outputs[conversionID]
	kept := make([]*domain.Output, 0, len(before))
	for _, o := range before {
		if o.Version != domain.FirstPassVersion {
			kept = append(kept, o)
		}
	}
	s.db.outputs[conversionID] = kept
	s.db.record(ctx, func() { s.db.outputs[conversionID] = before })
	return len(before) - len(kept), nil
}

// UsageStore implements store.UsageStore.
type UsageStore struct{ db *DB }

var _ store.UsageStore = (*UsageStore)(nil)

func (s *UsageStore) current(userID uuid.UUID) domain.UsageCounter {
	if c, ok := s.db.usage[userID]; ok {
		return *c
	}
	return domain.UsageCounter{UserID: userID, PeriodStart: domain.BillingPeriodStart(s.db.now())}
}

// Get implements store.UsageStore.
func (s *UsageStore) Get(_ context.Context, userID uuid.UUID) (domain.UsageCounter, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return s.current(userID), nil
}

// IncrementIfBelow implements store.UsageStore.
func (s *UsageStore) IncrementIfBelow(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	now time.Time,
) (domain.UsageCounter, bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	counter := s.current(userID)
	if counter.ConversionsUsed >= limit {
		return counter, false, nil
	}

	prev, existed := s.db.usage[userID]
	counter.ConversionsUsed++
	counter.UpdatedAt = now
	s.db.usage[userID] = &counter
	s.db.record(ctx, func() {
		if existed {
			s.db.usage[userID] = prev
		} else {
			delete(s.db.usage, userID)
		}
	})
	return counter, true, nil
}

// MarkLowUsageNotified implements store.UsageStore.
func (s *UsageStore) MarkLowUsageNotified(ctx context.Context, userID uuid.UUID) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.usage[userID]
	if !ok || c.LowUsageNotified {
		return false, nil
	}
	prev := *c
	c.LowUsageNotified = true
	s.db.record(ctx, func() { s.db.usage[userID] = &prev })
	return true, nil
}

// AccountStore implements store.AccountStore.
type AccountStore struct{ db *DB }

var _ store.AccountStore = (*AccountStore)(nil)

// PlanFor implements store.AccountStore.
func (s *AccountStore) PlanFor(_ context.Context, userID uuid.UUID) (string, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	plan, ok := s.db.plans[userID]
	if !ok {
		return "", store.ErrAccountNotFound
	}
	return plan, nil
}
