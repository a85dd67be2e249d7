package detection

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"mailsweep/core/domain"
	"mailsweep/pkg/logger"
	"mailsweep/pkg/retry"
)

type fakeAggRepo struct {
	aggs      map[string]*domain.SenderAggregate
	deferred  []*domain.DeferredUpdate
	upsertErr error
	getErr    error
	nextID    int64
}

func newFakeAggRepo() *fakeAggRepo {
	return &fakeAggRepo{aggs: make(map[string]*domain.SenderAggregate)}
}

func aggKey(userID uuid.UUID, sender string) string {
	return userID.String() + "/" + sender
}

func (r *fakeAggRepo) Get(_ context.Context, userID uuid.UUID, sender string) (*domain.SenderAggregate, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.aggs[aggKey(userID, sender)], nil
}

func (r *fakeAggRepo) Upsert(_ context.Context, agg *domain.SenderAggregate) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.aggs[aggKey(agg.UserID, agg.SenderAddress)] = agg
	return nil
}

func (r *fakeAggRepo) MarkDeferred(_ context.Context, d *domain.DeferredUpdate) error {
	r.nextID++
	d.ID = r.nextID
	r.deferred = append(r.deferred, d)
	return nil
}

func (r *fakeAggRepo) ListDeferred(_ context.Context, due time.Time, limit int) ([]*domain.DeferredUpdate, error) {
	var out []*domain.DeferredUpdate
	for _, d := range r.deferred {
		if !d.NextRetryAt.After(due) && len(out) < limit {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *fakeAggRepo) ClearDeferred(_ context.Context, id int64) error {
	for i, d := range r.deferred {
		if d.ID == id {
			r.deferred = append(r.deferred[:i], r.deferred[i+1:]...)
			return nil
		}
	}
	return nil
}

type fakeSubRepo struct {
	records map[string]*domain.SubscriptionRecord
	nextID  int64
}

func newFakeSubRepo() *fakeSubRepo {
	return &fakeSubRepo{records: make(map[string]*domain.SubscriptionRecord)}
}

func (r *fakeSubRepo) GetByID(_ context.Context, userID uuid.UUID, id int64) (*domain.SubscriptionRecord, error) {
	for _, rec := range r.records {
		if rec.ID == id && rec.UserID == userID {
			return rec, nil
		}
	}
	return nil, nil
}

func (r *fakeSubRepo) GetBySender(_ context.Context, userID uuid.UUID, sender string) (*domain.SubscriptionRecord, error) {
	return r.records[aggKey(userID, sender)], nil
}

func (r *fakeSubRepo) List(_ context.Context, userID uuid.UUID, _ domain.SubscriptionListFilter) ([]*domain.SubscriptionRecord, error) {
	var out []*domain.SubscriptionRecord
	for _, rec := range r.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeSubRepo) Upsert(_ context.Context, rec *domain.SubscriptionRecord) error {
	if rec.ID == 0 {
		r.nextID++
		rec.ID = r.nextID
	}
	r.records[aggKey(rec.UserID, rec.SenderAddress)] = rec
	return nil
}

func (r *fakeSubRepo) UpdateStatus(_ context.Context, rec *domain.SubscriptionRecord) error {
	r.records[aggKey(rec.UserID, rec.SenderAddress)] = rec
	return nil
}

func (r *fakeSubRepo) SetActiveBySender(_ context.Context, userID uuid.UUID, sender string, active bool) error {
	if rec, ok := r.records[aggKey(userID, sender)]; ok {
		rec.IsActive = active
	}
	return nil
}

func (r *fakeSubRepo) Stats(_ context.Context, _ uuid.UUID) (*domain.SubscriptionStats, error) {
	return &domain.SubscriptionStats{Total: len(r.records)}, nil
}

func testRetryPolicy() retry.Policy {
	return retry.Policy{Base: time.Millisecond, Max: time.Millisecond}
}

func newTestDetector(aggs *fakeAggRepo, subs *fakeSubRepo) *Detector {
	return NewDetector(aggs, subs, NewGuard(nil), 0.4, testRetryPolicy(), 1, nil, nil,
		logger.New(logger.Config{Level: logger.LevelError, Service: "test"}))
}

func newsletterMessage(i int, at time.Time) *domain.NormalizedMessage {
	return &domain.NormalizedMessage{
		ID:            fmt.Sprintf("m%d", i),
		SenderAddress: "newsletter@press.example.com",
		Subject:       fmt.Sprintf("Weekly digest %d", i),
		Headers: domain.NewHeaderMap(map[string]string{
			"List-Unsubscribe": "<https://press.example.com/unsub>",
		}),
		ReceivedAt: at,
	}
}

func TestProcessMessageCreatesRecord(t *testing.T) {
	aggs := newFakeAggRepo()
	subs := newFakeSubRepo()
	d := newTestDetector(aggs, subs)
	userID := uuid.New()
	ctx := context.Background()

	base := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := d.ProcessMessage(ctx, userID, newsletterMessage(i, base.Add(time.Duration(i)*7*24*time.Hour))); err != nil {
			t.Fatalf("ProcessMessage: %v", err)
		}
	}

	rec, _ := subs.GetBySender(ctx, userID, "newsletter@press.example.com")
	if rec == nil {
		t.Fatal("expected a subscription record")
	}
	if rec.ConfidenceTier != domain.TierLikely {
		t.Errorf("tier = %v (confidence %v), want likely", rec.ConfidenceTier, rec.Confidence)
	}
	if rec.EmailCount != 5 {
		t.Errorf("EmailCount = %d, want 5", rec.EmailCount)
	}
	if rec.Status != domain.StatusNotRequested {
		t.Errorf("status = %v, want not_requested", rec.Status)
	}
	if rec.Method.Kind == domain.MethodUnknown {
		t.Errorf("method not resolved: %+v", rec.Method)
	}
	if !rec.IsActive {
		t.Error("record should be active")
	}
}

func TestProcessMessageBelowThresholdCreatesNothing(t *testing.T) {
	aggs := newFakeAggRepo()
	subs := newFakeSubRepo()
	d := newTestDetector(aggs, subs)
	userID := uuid.New()
	ctx := context.Background()

	err := d.ProcessMessage(ctx, userID, &domain.NormalizedMessage{
		ID:            "m1",
		SenderAddress: "friend@example.com",
		Subject:       "coffee?",
		ReceivedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	if rec, _ := subs.GetBySender(ctx, userID, "friend@example.com"); rec != nil {
		t.Errorf("low-confidence sender should not get a record, got %+v", rec)
	}
	if agg, _ := aggs.Get(ctx, userID, "friend@example.com"); agg == nil {
		t.Error("aggregate must still be stored for incremental re-scoring")
	}
}

func TestProcessMessageRefreshesExistingRecordBelowThreshold(t *testing.T) {
	aggs := newFakeAggRepo()
	subs := newFakeSubRepo()
	d := newTestDetector(aggs, subs)
	userID := uuid.New()
	ctx := context.Background()

	base := time.Now().Add(-30 * 24 * time.Hour)
	for i := 0; i < 5; i++ {
		d.ProcessMessage(ctx, userID, newsletterMessage(i, base.Add(time.Duration(i)*24*time.Hour)))
	}
	rec, _ := subs.GetBySender(ctx, userID, "newsletter@press.example.com")
	if rec == nil {
		t.Fatal("expected a record")
	}

	// A reply from the user drops the score via the conversation guard, but
	// the existing record is refreshed rather than frozen.
	agg, _ := aggs.Get(ctx, userID, "newsletter@press.example.com")
	agg.HasTwoWayConversation = true
	d.ProcessMessage(ctx, userID, newsletterMessage(99, base.Add(40*24*time.Hour)))

	rec, _ = subs.GetBySender(ctx, userID, "newsletter@press.example.com")
	if rec.Confidence > TwoWayConfidenceCap {
		t.Errorf("confidence = %v, want capped at %v", rec.Confidence, TwoWayConfidenceCap)
	}
}

func TestProcessMessageDefersOnStorageFailure(t *testing.T) {
	aggs := newFakeAggRepo()
	subs := newFakeSubRepo()
	d := newTestDetector(aggs, subs)
	userID := uuid.New()
	ctx := context.Background()

	aggs.upsertErr = errors.New("connection reset")
	if err := d.ProcessMessage(ctx, userID, newsletterMessage(1, time.Now())); err != nil {
		t.Fatalf("deferred failure should not surface: %v", err)
	}

	if len(aggs.deferred) != 1 {
		t.Fatalf("deferred entries = %d, want 1", len(aggs.deferred))
	}
	entry := aggs.deferred[0]
	if entry.SenderAddress != "newsletter@press.example.com" || entry.MessageID != "m1" {
		t.Errorf("deferred entry = %+v", entry)
	}
	if entry.LastError == "" {
		t.Error("deferred entry should carry the cause")
	}

	// Later messages flow normally once storage recovers.
	aggs.upsertErr = nil
	if err := d.ProcessMessage(ctx, userID, newsletterMessage(2, time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("ProcessMessage after recovery: %v", err)
	}
}

func TestDetectorHonorsConfiguredRetrySchedule(t *testing.T) {
	policy := retry.Policy{Base: 7 * time.Millisecond, Max: 20 * time.Millisecond}
	d := NewDetector(newFakeAggRepo(), newFakeSubRepo(), NewGuard(nil), 0.4, policy, 3, nil, nil,
		logger.New(logger.Config{Level: logger.LevelError, Service: "test"}))

	if d.retryPolicy.Base != 7*time.Millisecond {
		t.Errorf("retry base = %v, want 7ms", d.retryPolicy.Base)
	}
	if got := d.retryPolicy.Delay(2); got != 20*time.Millisecond {
		t.Errorf("third retry delay = %v, want the 20ms cap", got)
	}
}

func TestThreadReplyLookupCapsConversationalSender(t *testing.T) {
	aggs := newFakeAggRepo()
	subs := newFakeSubRepo()
	lookups := 0
	d := NewDetector(aggs, subs, NewGuard(nil), 0.4, testRetryPolicy(), 1, nil,
		func(_ context.Context, _ uuid.UUID, threadID string) (bool, error) {
			lookups++
			return threadID == "t-chat", nil
		},
		logger.New(logger.Config{Level: logger.LevelError, Service: "test"}))
	userID := uuid.New()
	ctx := context.Background()

	base := time.Now().Add(-10 * 24 * time.Hour)
	for i := 0; i < 3; i++ {
		msg := newsletterMessage(i, base.Add(time.Duration(i)*24*time.Hour))
		msg.ThreadID = "t-chat"
		if err := d.ProcessMessage(ctx, userID, msg); err != nil {
			t.Fatalf("ProcessMessage: %v", err)
		}
	}

	agg, _ := aggs.Get(ctx, userID, "newsletter@press.example.com")
	if !agg.HasTwoWayConversation {
		t.Fatal("provider-confirmed reply must mark the sender conversational")
	}
	// Once the evidence is in, later messages must not trigger more lookups.
	if lookups != 1 {
		t.Errorf("thread lookups = %d, want 1", lookups)
	}

	if rec, _ := subs.GetBySender(ctx, userID, "newsletter@press.example.com"); rec != nil {
		t.Errorf("conversational sender must stay below the record threshold, got %+v", rec)
	}
}

func TestResubscribedSenderResetsLifecycle(t *testing.T) {
	aggs := newFakeAggRepo()
	subs := newFakeSubRepo()
	d := newTestDetector(aggs, subs)
	userID := uuid.New()
	ctx := context.Background()

	base := time.Now().Add(-60 * 24 * time.Hour)
	for i := 0; i < 5; i++ {
		d.ProcessMessage(ctx, userID, newsletterMessage(i, base.Add(time.Duration(i)*24*time.Hour)))
	}

	rec, _ := subs.GetBySender(ctx, userID, "newsletter@press.example.com")
	rec.NoteAttempt(domain.MethodLink)
	attemptAt := base.Add(10 * 24 * time.Hour)
	rec.LastAttemptAt = &attemptAt
	rec.Status = domain.StatusSucceeded

	// Mail arriving after the successful unsubscribe restarts the lifecycle.
	d.ProcessMessage(ctx, userID, newsletterMessage(50, base.Add(30*24*time.Hour)))

	rec, _ = subs.GetBySender(ctx, userID, "newsletter@press.example.com")
	if rec.Status != domain.StatusNotRequested {
		t.Errorf("status = %v, want reset to not_requested", rec.Status)
	}
	if rec.AttemptCount != 0 {
		t.Errorf("AttemptCount = %d, want 0 after reset", rec.AttemptCount)
	}
}
