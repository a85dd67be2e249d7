package unsubscribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"mailsweep/core/domain"
	"mailsweep/pkg/apperr"
	"mailsweep/pkg/logger"
)

type memSubRepo struct {
	records map[int64]*domain.SubscriptionRecord
}

func newMemSubRepo(recs ...*domain.SubscriptionRecord) *memSubRepo {
	r := &memSubRepo{records: make(map[int64]*domain.SubscriptionRecord)}
	for _, rec := range recs {
		r.records[rec.ID] = rec
	}
	return r
}

func (r *memSubRepo) GetByID(_ context.Context, userID uuid.UUID, id int64) (*domain.SubscriptionRecord, error) {
	rec := r.records[id]
	if rec == nil || rec.UserID != userID {
		return nil, nil
	}
	return rec, nil
}

func (r *memSubRepo) GetBySender(_ context.Context, userID uuid.UUID, sender string) (*domain.SubscriptionRecord, error) {
	for _, rec := range r.records {
		if rec.UserID == userID && rec.SenderAddress == sender {
			return rec, nil
		}
	}
	return nil, nil
}

func (r *memSubRepo) List(_ context.Context, userID uuid.UUID, _ domain.SubscriptionListFilter) ([]*domain.SubscriptionRecord, error) {
	var out []*domain.SubscriptionRecord
	for _, rec := range r.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memSubRepo) Upsert(_ context.Context, rec *domain.SubscriptionRecord) error {
	r.records[rec.ID] = rec
	return nil
}

func (r *memSubRepo) UpdateStatus(_ context.Context, rec *domain.SubscriptionRecord) error {
	r.records[rec.ID] = rec
	return nil
}

func (r *memSubRepo) SetActiveBySender(_ context.Context, _ uuid.UUID, _ string, _ bool) error {
	return nil
}

func (r *memSubRepo) Stats(_ context.Context, _ uuid.UUID) (*domain.SubscriptionStats, error) {
	return &domain.SubscriptionStats{Total: len(r.records)}, nil
}

type memAggRepo struct {
	aggs map[string]*domain.SenderAggregate
}

func (r *memAggRepo) Get(_ context.Context, _ uuid.UUID, sender string) (*domain.SenderAggregate, error) {
	if r.aggs == nil {
		return nil, nil
	}
	return r.aggs[sender], nil
}

func (r *memAggRepo) Upsert(_ context.Context, agg *domain.SenderAggregate) error { return nil }
func (r *memAggRepo) MarkDeferred(_ context.Context, _ *domain.DeferredUpdate) error {
	return nil
}
func (r *memAggRepo) ListDeferred(_ context.Context, _ time.Time, _ int) ([]*domain.DeferredUpdate, error) {
	return nil, nil
}
func (r *memAggRepo) ClearDeferred(_ context.Context, _ int64) error { return nil }

func testService(subs *memSubRepo, aggs *memAggRepo) *Service {
	log := logger.New(logger.Config{Level: logger.LevelError, Service: "test"})
	executor := NewExecutor(http.DefaultClient, &fakeMailPort{}, 5*time.Second, log)
	return NewService(subs, aggs, executor, 4, 100, log)
}

func activeRecord(userID uuid.UUID, id int64, method domain.UnsubscribeMethod) *domain.SubscriptionRecord {
	return &domain.SubscriptionRecord{
		ID:            id,
		UserID:        userID,
		SenderAddress: "news@example.com",
		Status:        domain.StatusNotRequested,
		Method:        method,
		IsActive:      true,
	}
}

func TestUnsubscribeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	userID := uuid.New()
	rec := activeRecord(userID, 1, domain.UnsubscribeMethod{Kind: domain.MethodLink, URL: srv.URL})
	subs := newMemSubRepo(rec)
	svc := testService(subs, &memAggRepo{})

	outcome, err := svc.Unsubscribe(context.Background(), userID, 1)
	if err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if outcome.Status != domain.StatusSucceeded {
		t.Errorf("outcome status = %v, want succeeded", outcome.Status)
	}
	if rec.Status != domain.StatusSucceeded {
		t.Errorf("record status = %v, want succeeded", rec.Status)
	}
	if rec.AttemptCount != 1 || !rec.HasTriedMethod(domain.MethodLink) {
		t.Errorf("attempt tracking: count=%d tried=%v", rec.AttemptCount, rec.TriedMethods)
	}
}

func TestUnsubscribeGuards(t *testing.T) {
	userID := uuid.New()
	method := domain.UnsubscribeMethod{Kind: domain.MethodLink, URL: "https://example.com/u"}

	tests := []struct {
		name   string
		mutate func(*domain.SubscriptionRecord)
	}{
		{"whitelisted sender", func(r *domain.SubscriptionRecord) { r.IsActive = false }},
		{"already succeeded", func(r *domain.SubscriptionRecord) { r.Status = domain.StatusSucceeded }},
		{"attempt in flight", func(r *domain.SubscriptionRecord) { r.Status = domain.StatusPending }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := activeRecord(userID, 1, method)
			tt.mutate(rec)
			svc := testService(newMemSubRepo(rec), &memAggRepo{})

			_, err := svc.Unsubscribe(context.Background(), userID, 1)
			if err == nil {
				t.Fatal("expected rejection")
			}
			if !apperr.IsAppError(err) {
				t.Errorf("error is not an AppError: %v", err)
			}
		})
	}
}

func TestUnsubscribeUnknownSubscription(t *testing.T) {
	svc := testService(newMemSubRepo(), &memAggRepo{})
	_, err := svc.Unsubscribe(context.Background(), uuid.New(), 42)
	if err == nil {
		t.Fatal("expected not found")
	}
	if ae := apperr.AsAppError(err); ae == nil || ae.Code != apperr.CodeNotFound {
		t.Errorf("error = %v, want NOT_FOUND", err)
	}
}

func TestUnsubscribeFailureThenDegradedRetry(t *testing.T) {
	// POST (one-click) fails, GET succeeds, so the retry exercises the
	// next method in priority order.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	userID := uuid.New()
	rec := activeRecord(userID, 1, domain.UnsubscribeMethod{Kind: domain.MethodHeader, URL: srv.URL})

	agg := domain.NewSenderAggregate(userID, "news@example.com")
	agg.EmailCount = 5
	agg.SawListUnsubscribe = true
	agg.LastListUnsubscribe = "<" + srv.URL + ">"
	agg.SawOneClick = true
	agg.LastListUnsubscribePost = "List-Unsubscribe=One-Click"

	subs := newMemSubRepo(rec)
	svc := testService(subs, &memAggRepo{aggs: map[string]*domain.SenderAggregate{"news@example.com": agg}})
	ctx := context.Background()

	outcome, err := svc.Unsubscribe(ctx, userID, 1)
	if err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if outcome.Status != domain.StatusFailed {
		t.Fatalf("first outcome = %v, want failed", outcome.Status)
	}
	if outcome.Reason != "http_status:502" {
		t.Errorf("reason = %q, want http_status:502", outcome.Reason)
	}
	if rec.Status != domain.StatusFailed {
		t.Errorf("record status = %v, want failed", rec.Status)
	}

	outcome, err = svc.Unsubscribe(ctx, userID, 1)
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if outcome.Method != domain.MethodLink {
		t.Errorf("retry method = %v, want degraded to link", outcome.Method)
	}
	if outcome.Status != domain.StatusSucceeded {
		t.Errorf("retry outcome = %v, want succeeded", outcome.Status)
	}
	if !rec.HasTriedMethod(domain.MethodHeader) || !rec.HasTriedMethod(domain.MethodLink) {
		t.Errorf("tried methods = %v", rec.TriedMethods)
	}
}

func TestUnsubscribeNoMethodLeft(t *testing.T) {
	userID := uuid.New()
	rec := activeRecord(userID, 1, domain.UnsubscribeMethod{Kind: domain.MethodUnknown})
	rec.Status = domain.StatusFailed
	rec.TriedMethods = []string{string(domain.MethodFilter)}

	svc := testService(newMemSubRepo(rec), &memAggRepo{})

	outcome, err := svc.Unsubscribe(context.Background(), userID, 1)
	if err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if outcome.Reason != ReasonNoMethod {
		t.Errorf("reason = %q, want %q", outcome.Reason, ReasonNoMethod)
	}
	if rec.Status != domain.StatusFailed {
		t.Errorf("status = %v, exhausted methods must not change state", rec.Status)
	}
}

func TestBulkUnsubscribeReportsPerItemOutcomes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	userID := uuid.New()
	method := domain.UnsubscribeMethod{Kind: domain.MethodLink, URL: srv.URL}
	rec1 := activeRecord(userID, 1, method)
	rec2 := activeRecord(userID, 2, method)
	rec2.SenderAddress = "promo@example.com"

	svc := testService(newMemSubRepo(rec1, rec2), &memAggRepo{})

	result, err := svc.BulkUnsubscribe(context.Background(), userID, []int64{1, 2, 99})
	if err != nil {
		t.Fatalf("BulkUnsubscribe: %v", err)
	}

	if result.Requested != 3 || len(result.Outcomes) != 3 {
		t.Fatalf("requested=%d outcomes=%d, want 3 each", result.Requested, len(result.Outcomes))
	}
	if result.Succeeded != 2 || result.Failed != 1 {
		t.Errorf("succeeded=%d failed=%d, want 2/1", result.Succeeded, result.Failed)
	}
	if result.Outcomes[2].SubscriptionID != 99 || result.Outcomes[2].Status != domain.StatusFailed {
		t.Errorf("missing subscription outcome = %+v", result.Outcomes[2])
	}
}

func TestBulkUnsubscribeEmptyIDs(t *testing.T) {
	svc := testService(newMemSubRepo(), &memAggRepo{})
	if _, err := svc.BulkUnsubscribe(context.Background(), uuid.New(), nil); err == nil {
		t.Fatal("expected missing field error")
	}
}

func TestMarkResubscribed(t *testing.T) {
	userID := uuid.New()
	rec := activeRecord(userID, 1, domain.UnsubscribeMethod{Kind: domain.MethodLink})
	rec.Status = domain.StatusSucceeded
	rec.StatusReason = "done"
	rec.Confidence = 0.83
	rec.Category = domain.CategoryNewsletter
	rec.NoteAttempt(domain.MethodLink)

	svc := testService(newMemSubRepo(rec), &memAggRepo{})

	got, err := svc.MarkResubscribed(context.Background(), userID, 1)
	if err != nil {
		t.Fatalf("MarkResubscribed: %v", err)
	}
	if got.Status != domain.StatusNotRequested {
		t.Errorf("status = %v, want not_requested", got.Status)
	}
	if got.AttemptCount != 0 || got.TriedMethods != nil || got.StatusReason != "" {
		t.Errorf("attempt tracking not cleared: %+v", got)
	}
	if got.Confidence != 0.83 || got.Category != domain.CategoryNewsletter {
		t.Errorf("detection result must survive the reset: %+v", got)
	}

	// Only a successful unsubscribe can be marked resubscribed.
	rec2 := activeRecord(userID, 2, domain.UnsubscribeMethod{Kind: domain.MethodLink})
	svc = testService(newMemSubRepo(rec2), &memAggRepo{})
	if _, err := svc.MarkResubscribed(context.Background(), userID, 2); err == nil {
		t.Fatal("expected invalid transition error")
	}
}

func TestUnsubscribeAfterResubscribe(t *testing.T) {
	// A resubscribed record is immediately eligible for another unsubscribe.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	userID := uuid.New()
	rec := activeRecord(userID, 1, domain.UnsubscribeMethod{Kind: domain.MethodLink, URL: srv.URL})
	rec.Status = domain.StatusSucceeded
	rec.NoteAttempt(domain.MethodLink)

	svc := testService(newMemSubRepo(rec), &memAggRepo{})

	if _, err := svc.MarkResubscribed(context.Background(), userID, 1); err != nil {
		t.Fatalf("MarkResubscribed: %v", err)
	}
	outcome, err := svc.Unsubscribe(context.Background(), userID, 1)
	if err != nil {
		t.Fatalf("Unsubscribe after resubscribe: %v", err)
	}
	if outcome.Status != domain.StatusSucceeded {
		t.Errorf("outcome status = %v, want succeeded", outcome.Status)
	}
}
