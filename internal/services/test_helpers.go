package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/subdivisync/internal/background"
	"github.com/BradenHooton/subdivisync/internal/models"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc    func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc func(ctx context.Context, email string) (*models.User, error)
	CreateFunc     func(ctx context.Context, user *models.User) (*models.User, error)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

// MockUserDirectory implements UserDirectory and IdentityLookup over a fixed
// set of identities
type MockUserDirectory struct {
	Identities    []*models.Identity
	FindByEmailFn func(ctx context.Context, email string) (*models.Identity, error)
	FindByIDsFn   func(ctx context.Context, ids []string) (map[string]*models.Identity, error)
}

func (m *MockUserDirectory) FindByEmail(ctx context.Context, email string) (*models.Identity, error) {
	if m.FindByEmailFn != nil {
		return m.FindByEmailFn(ctx, email)
	}
	for _, identity := range m.Identities {
		if identity.Email == email {
			cp := *identity
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockUserDirectory) FindByIDs(ctx context.Context, ids []string) (map[string]*models.Identity, error) {
	if m.FindByIDsFn != nil {
		return m.FindByIDsFn(ctx, ids)
	}
	out := make(map[string]*models.Identity)
	for _, id := range ids {
		for _, identity := range m.Identities {
			if identity.ID == id {
				cp := *identity
				out[id] = &cp
			}
		}
	}
	return out, nil
}

// QueuedEmail is one message captured by MockNotificationQueue
type QueuedEmail struct {
	Message models.EmailMessage
	Hook    background.DeliveryHook
}

// MockNotificationQueue records enqueued messages instead of sending them
type MockNotificationQueue struct {
	mu       sync.Mutex
	Messages []QueuedEmail
	Reject   bool
}

func (m *MockNotificationQueue) Enqueue(msg models.EmailMessage, onDelivered background.DeliveryHook) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Reject {
		return false
	}
	m.Messages = append(m.Messages, QueuedEmail{Message: msg, Hook: onDelivered})
	return true
}

// Deliver runs every captured hook as if the sender had accepted the messages
func (m *MockNotificationQueue) Deliver(ctx context.Context) error {
	m.mu.Lock()
	queued := append([]QueuedEmail(nil), m.Messages...)
	m.mu.Unlock()

	for _, q := range queued {
		if q.Hook == nil {
			continue
		}
		if err := q.Hook(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Kinds lists the Kind of every captured message in order
func (m *MockNotificationQueue) Kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]string, 0, len(m.Messages))
	for _, q := range m.Messages {
		kinds = append(kinds, q.Message.Kind)
	}
	return kinds
}

// MemorySecurityStore is an in-memory SecurityRecordStore with the same
// uniqueness and filter semantics as the Postgres repository. Records are
// copied on the way in and out.
type MemorySecurityStore struct {
	mu      sync.Mutex
	records map[string]*models.SecurityRecord // keyed by ID
	seq     int

	SaveErr error
}

// NewMemorySecurityStore creates an empty store
func NewMemorySecurityStore() *MemorySecurityStore {
	return &MemorySecurityStore{records: make(map[string]*models.SecurityRecord)}
}

// Put inserts rec as-is, for seeding legacy or pre-locked state
func (m *MemorySecurityStore) Put(rec *models.SecurityRecord) *models.SecurityRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		m.seq++
		rec.ID = fmt.Sprintf("rec-%d", m.seq)
	}
	m.records[rec.ID] = cloneRecord(rec)
	return cloneRecord(rec)
}

// Get returns a copy of the record stored under userID, or nil
func (m *MemorySecurityStore) Get(userID string) *models.SecurityRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.UserID == userID {
			return cloneRecord(rec)
		}
	}
	return nil
}

// Len is the number of stored records
func (m *MemorySecurityStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MemorySecurityStore) FindOne(ctx context.Context, userID string) (*models.SecurityRecord, error) {
	return m.FindByAnyUserID(ctx, []string{userID})
}

func (m *MemorySecurityStore) FindByAnyUserID(ctx context.Context, keys []string) (*models.SecurityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		for _, rec := range m.records {
			if rec.UserID == key {
				return cloneRecord(rec), nil
			}
		}
	}
	return nil, models.ErrNotFound
}

func (m *MemorySecurityStore) Create(ctx context.Context, rec *models.SecurityRecord) (*models.SecurityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.UserID == rec.UserID {
			return nil, models.ErrConflict
		}
	}
	rec = cloneRecord(rec)
	rec.Normalize()
	m.seq++
	rec.ID = fmt.Sprintf("rec-%d", m.seq)
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	m.records[rec.ID] = rec
	return cloneRecord(rec), nil
}

func (m *MemorySecurityStore) Save(ctx context.Context, rec *models.SecurityRecord) (*models.SecurityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return nil, m.SaveErr
	}
	if _, ok := m.records[rec.ID]; !ok {
		return nil, models.ErrNotFound
	}
	for id, existing := range m.records {
		if id != rec.ID && existing.UserID == rec.UserID {
			return nil, models.ErrConflict
		}
	}
	rec = cloneRecord(rec)
	rec.Normalize()
	rec.UpdatedAt = time.Now()
	m.records[rec.ID] = rec
	return cloneRecord(rec), nil
}

func (m *MemorySecurityStore) UpdateMany(ctx context.Context, filter models.SecurityRecordFilter, patch models.SecurityRecordPatch) (int64, error) {
	if patch.IsEmpty() {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, rec := range m.records {
		if !matches(rec, filter) {
			continue
		}
		if patch.FailedLoginCount != nil {
			rec.FailedLoginCount = *patch.FailedLoginCount
		}
		if patch.AccountLocked != nil {
			rec.AccountLocked = *patch.AccountLocked
		}
		if patch.UnlockedAt != nil {
			at := *patch.UnlockedAt
			rec.UnlockedAt = &at
		}
		if patch.UnlockReason != nil {
			reason := *patch.UnlockReason
			rec.UnlockReason = &reason
		}
		if patch.LockEmailSent != nil {
			rec.LockEmailSent = *patch.LockEmailSent
		}
		if patch.ClearLock {
			rec.LockedAt = nil
			rec.LockedBy = nil
			rec.LockedReason = nil
			rec.UnlockToken = nil
			rec.UnlockTokenExpires = nil
			rec.UnlockRequest = nil
		}
		rec.UpdatedAt = time.Now()
		n++
	}
	return n, nil
}

func (m *MemorySecurityStore) Count(ctx context.Context, filter models.SecurityRecordFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.records {
		if matches(rec, filter) {
			n++
		}
	}
	return n, nil
}

func (m *MemorySecurityStore) Find(ctx context.Context, filter models.SecurityRecordFilter, limit, offset int) ([]*models.SecurityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.SecurityRecord
	for _, rec := range m.records {
		if matches(rec, filter) {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LockedAt, out[j].LockedAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	if offset >= len(out) {
		return []*models.SecurityRecord{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func matches(rec *models.SecurityRecord, filter models.SecurityRecordFilter) bool {
	if len(filter.UserIDs) > 0 {
		found := false
		for _, id := range filter.UserIDs {
			if rec.UserID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.AccountLocked != nil && rec.AccountLocked != *filter.AccountLocked {
		return false
	}
	if filter.LockEmailSent != nil && rec.LockEmailSent != *filter.LockEmailSent {
		return false
	}
	if filter.LockedBefore != nil && (rec.LockedAt == nil || !rec.LockedAt.Before(*filter.LockedBefore)) {
		return false
	}
	if filter.NeedsReset && !rec.NeedsReset() {
		return false
	}
	return true
}

func cloneRecord(rec *models.SecurityRecord) *models.SecurityRecord {
	cp := *rec
	if rec.UnlockRequest != nil {
		req := *rec.UnlockRequest
		cp.UnlockRequest = &req
	}
	return &cp
}

// NewTestIdentity creates an identity for tests
func NewTestIdentity(id, email, name, role string) *models.Identity {
	return &models.Identity{ID: id, Email: email, Name: name, Role: role}
}

// fixedClock returns a settable clock for deterministic expiry tests
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFixedClock(t time.Time) *fixedClock {
	return &fixedClock{t: t}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
