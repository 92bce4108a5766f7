package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/db"
)

type release struct {
	id            uuid.UUID
	prevStatus    string
	nextRetryTime *time.Time
}

// fakeStore is an in-memory Store whose claims are real compare-and-swap
// transitions, so racing callers behave like racing database updates.
type fakeStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*db.Notification

	listErr  error
	claimErr error

	claims   int
	releases []release
}

func newFakeStore(records ...*db.Notification) *fakeStore {
	s := &fakeStore{records: make(map[uuid.UUID]*db.Notification)}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

func (s *fakeStore) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*db.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}

	var due []*db.Notification
	for _, r := range s.records {
		if r.Status == db.StatusRetryScheduled && r.NextRetryTime != nil && !r.NextRetryTime.After(now) {
			copied := *r
			due = append(due, &copied)
		}
	}
	return due, nil
}

func (s *fakeStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*db.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}

	var stale []*db.Notification
	for _, r := range s.records {
		if r.Status == db.StatusPending && !r.CreatedAt.After(cutoff) {
			copied := *r
			stale = append(stale, &copied)
		}
	}
	return stale, nil
}

func (s *fakeStore) claim(id uuid.UUID, fromStatus string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims++
	if s.claimErr != nil {
		return false, s.claimErr
	}

	r, ok := s.records[id]
	if !ok || r.Status != fromStatus {
		return false, nil
	}
	r.Status = db.StatusRetrying
	r.NextRetryTime = nil
	return true, nil
}

func (s *fakeStore) ClaimDue(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.claim(id, db.StatusRetryScheduled)
}

func (s *fakeStore) ClaimStalePending(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.claim(id, db.StatusPending)
}

func (s *fakeStore) Release(ctx context.Context, id uuid.UUID, prevStatus string, nextRetryTime *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases = append(s.releases, release{id, prevStatus, nextRetryTime})

	if r, ok := s.records[id]; ok && r.Status == db.StatusRetrying {
		r.Status = prevStatus
		r.NextRetryTime = nextRetryTime
	}
	return nil
}

func (s *fakeStore) status(id uuid.UUID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].Status
}

// fakePublisher records enqueued snapshots
type fakePublisher struct {
	mu         sync.Mutex
	enqueueErr error
	published  []*db.Notification
}

func (p *fakePublisher) Enqueue(ctx context.Context, notif *db.Notification) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enqueueErr != nil {
		return "", p.enqueueErr
	}
	copied := *notif
	p.published = append(p.published, &copied)
	return "msg-" + notif.ID.String(), nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func dueRetry(nextRetry time.Time) *db.Notification {
	return &db.Notification{
		ID:            uuid.New(),
		UserID:        "user-1",
		Type:          db.TypeEmail,
		Message:       "hello",
		Contact:       "user@example.com",
		Status:        db.StatusRetryScheduled,
		RetryCount:    2,
		MaxRetries:    db.DefaultMaxRetries,
		NextRetryTime: &nextRetry,
	}
}

func newTestScheduler(store *fakeStore, pub *fakePublisher) *Scheduler {
	return New(store, pub, Config{
		Interval:           time.Minute,
		PendingGracePeriod: 5 * time.Minute,
	}, zap.NewNop())
}

func TestTick_RepublishesDueRetries(t *testing.T) {
	now := time.Now().UTC()
	due := dueRetry(now.Add(-time.Second))
	notYet := dueRetry(now.Add(time.Hour))
	store := newFakeStore(due, notYet)
	pub := &fakePublisher{}

	s := newTestScheduler(store, pub)
	s.Tick(context.Background())

	if pub.count() != 1 {
		t.Fatalf("published %d, want 1", pub.count())
	}
	snapshot := pub.published[0]
	if snapshot.ID != due.ID {
		t.Errorf("published wrong record: %s", snapshot.ID)
	}
	if snapshot.Status != db.StatusRetrying {
		t.Errorf("snapshot status = %s, want retrying", snapshot.Status)
	}
	if snapshot.NextRetryTime != nil {
		t.Error("snapshot should have schedule cleared")
	}

	if store.status(due.ID) != db.StatusRetrying {
		t.Errorf("claimed record status = %s", store.status(due.ID))
	}
	if store.status(notYet.ID) != db.StatusRetryScheduled {
		t.Error("future retry must stay scheduled")
	}
}

func TestTick_ConcurrentTicksClaimEachRecordOnce(t *testing.T) {
	now := time.Now().UTC()
	var records []*db.Notification
	for i := 0; i < 10; i++ {
		records = append(records, dueRetry(now.Add(-time.Second)))
	}
	store := newFakeStore(records...)
	pub := &fakePublisher{}

	// Two schedulers over the same store, as with two service replicas.
	a := newTestScheduler(store, pub)
	b := newTestScheduler(store, pub)

	var wg sync.WaitGroup
	for _, s := range []*Scheduler{a, b} {
		wg.Add(1)
		go func(s *Scheduler) {
			defer wg.Done()
			s.Tick(context.Background())
		}(s)
	}
	wg.Wait()

	if pub.count() != len(records) {
		t.Fatalf("published %d, want exactly %d", pub.count(), len(records))
	}
	seen := make(map[uuid.UUID]int)
	for _, n := range pub.published {
		seen[n.ID]++
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("record %s published %d times", id, count)
		}
	}
}

func TestTick_SkipsWhileRunning(t *testing.T) {
	store := newFakeStore()
	s := newTestScheduler(store, &fakePublisher{})

	// Hold the reentrancy guard as a slow in-flight tick would.
	if !s.ticking.CompareAndSwap(false, true) {
		t.Fatal("guard unexpectedly held")
	}
	s.Tick(context.Background())
	s.ticking.Store(false)

	if store.claims != 0 {
		t.Error("overlapping tick ran anyway")
	}

	// Guard released: the next tick proceeds.
	s.Tick(context.Background())
	if !s.ticking.CompareAndSwap(false, true) {
		t.Error("guard not released after tick")
	}
}

func TestTick_PublishFailureRollsBackClaim(t *testing.T) {
	now := time.Now().UTC()
	due := dueRetry(now.Add(-time.Second))
	prevRetry := *due.NextRetryTime
	store := newFakeStore(due)
	pub := &fakePublisher{enqueueErr: errors.New("queue down")}

	s := newTestScheduler(store, pub)
	s.Tick(context.Background())

	if len(store.releases) != 1 {
		t.Fatalf("expected 1 release, got %d", len(store.releases))
	}
	rel := store.releases[0]
	if rel.prevStatus != db.StatusRetryScheduled {
		t.Errorf("released to %s, want retry_scheduled", rel.prevStatus)
	}
	if rel.nextRetryTime == nil || !rel.nextRetryTime.Equal(prevRetry) {
		t.Error("release lost the original due time")
	}
	if store.status(due.ID) != db.StatusRetryScheduled {
		t.Errorf("record status = %s after rollback", store.status(due.ID))
	}

	// The next tick picks it up again once the queue recovers.
	pub.enqueueErr = nil
	s.Tick(context.Background())
	if pub.count() != 1 {
		t.Errorf("published %d after recovery, want 1", pub.count())
	}
}

func TestTick_SweepsStalePending(t *testing.T) {
	now := time.Now().UTC()

	stale := &db.Notification{
		ID:        uuid.New(),
		UserID:    "user-1",
		Type:      db.TypeInApp,
		Message:   "lost at intake",
		Status:    db.StatusPending,
		CreatedAt: now.Add(-10 * time.Minute),
	}
	fresh := &db.Notification{
		ID:        uuid.New(),
		UserID:    "user-1",
		Type:      db.TypeInApp,
		Message:   "just created",
		Status:    db.StatusPending,
		CreatedAt: now.Add(-time.Second),
	}
	store := newFakeStore(stale, fresh)
	pub := &fakePublisher{}

	s := newTestScheduler(store, pub)
	s.Tick(context.Background())

	if pub.count() != 1 {
		t.Fatalf("published %d, want 1", pub.count())
	}
	if pub.published[0].ID != stale.ID {
		t.Error("swept the wrong record")
	}
	if store.status(fresh.ID) != db.StatusPending {
		t.Error("fresh pending record must survive the grace period")
	}
	if store.status(stale.ID) != db.StatusRetrying {
		t.Errorf("stale record status = %s", store.status(stale.ID))
	}
}

func TestTick_StalePendingPublishFailureRollsBackToPending(t *testing.T) {
	now := time.Now().UTC()
	stale := &db.Notification{
		ID:        uuid.New(),
		UserID:    "user-1",
		Type:      db.TypeEmail,
		Message:   "lost at intake",
		Contact:   "user@example.com",
		Status:    db.StatusPending,
		CreatedAt: now.Add(-10 * time.Minute),
	}
	store := newFakeStore(stale)
	pub := &fakePublisher{enqueueErr: errors.New("queue down")}

	s := newTestScheduler(store, pub)
	s.Tick(context.Background())

	if store.status(stale.ID) != db.StatusPending {
		t.Errorf("record status = %s, want pending after rollback", store.status(stale.ID))
	}
}

func TestTick_ClaimErrorSkipsRecord(t *testing.T) {
	now := time.Now().UTC()
	due := dueRetry(now.Add(-time.Second))
	store := newFakeStore(due)
	store.claimErr = errors.New("db down")
	pub := &fakePublisher{}

	s := newTestScheduler(store, pub)
	s.Tick(context.Background())

	if pub.count() != 0 {
		t.Error("published despite failed claim")
	}
}
