package whitelist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"mailsweep/core/domain"
	"mailsweep/pkg/apperr"
	"mailsweep/pkg/logger"
)

type fakeWhitelistRepo struct {
	entries []*domain.WhitelistEntry
	nextID  int64
	listErr error
}

func (r *fakeWhitelistRepo) List(_ context.Context, userID uuid.UUID) ([]*domain.WhitelistEntry, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*domain.WhitelistEntry
	for _, e := range r.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeWhitelistRepo) Add(_ context.Context, entry *domain.WhitelistEntry) (*domain.WhitelistEntry, error) {
	r.nextID++
	entry.ID = r.nextID
	r.entries = append(r.entries, entry)
	return entry, nil
}

func (r *fakeWhitelistRepo) Remove(_ context.Context, userID uuid.UUID, id int64) (*domain.WhitelistEntry, error) {
	for i, e := range r.entries {
		if e.UserID == userID && e.ID == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return e, nil
		}
	}
	return nil, nil
}

type activationCall struct {
	sender string
	active bool
}

type fakeSubsRepo struct {
	activations []activationCall
}

func (r *fakeSubsRepo) GetByID(_ context.Context, _ uuid.UUID, _ int64) (*domain.SubscriptionRecord, error) {
	return nil, nil
}

func (r *fakeSubsRepo) GetBySender(_ context.Context, _ uuid.UUID, _ string) (*domain.SubscriptionRecord, error) {
	return nil, nil
}

func (r *fakeSubsRepo) List(_ context.Context, _ uuid.UUID, _ domain.SubscriptionListFilter) ([]*domain.SubscriptionRecord, error) {
	return nil, nil
}

func (r *fakeSubsRepo) Upsert(_ context.Context, _ *domain.SubscriptionRecord) error { return nil }

func (r *fakeSubsRepo) UpdateStatus(_ context.Context, _ *domain.SubscriptionRecord) error {
	return nil
}

func (r *fakeSubsRepo) SetActiveBySender(_ context.Context, _ uuid.UUID, sender string, active bool) error {
	r.activations = append(r.activations, activationCall{sender: sender, active: active})
	return nil
}

func (r *fakeSubsRepo) Stats(_ context.Context, _ uuid.UUID) (*domain.SubscriptionStats, error) {
	return &domain.SubscriptionStats{}, nil
}

func newTestService(repo *fakeWhitelistRepo, subs *fakeSubsRepo) *Service {
	log := logger.New(logger.Config{Level: logger.LevelError, Service: "test"})
	return NewService(repo, subs, nil, time.Minute, log)
}

func TestAddWhitelistValidation(t *testing.T) {
	svc := newTestService(&fakeWhitelistRepo{}, &fakeSubsRepo{})
	ctx := context.Background()
	userID := uuid.New()

	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{"address", "News@Shop.example.com", false},
		{"domain", "shop.example.com", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"embedded space", "news @shop.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := svc.AddWhitelist(ctx, userID, tt.pattern, "")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected validation error")
				}
				return
			}
			if err != nil {
				t.Fatalf("AddWhitelist: %v", err)
			}
			if want := "news@shop.example.com"; tt.name == "address" && entry.Pattern != want {
				t.Errorf("pattern = %q, want lowercased %q", entry.Pattern, want)
			}
		})
	}
}

func TestAddWhitelistDeactivatesAddressRecords(t *testing.T) {
	subs := &fakeSubsRepo{}
	svc := newTestService(&fakeWhitelistRepo{}, subs)
	ctx := context.Background()
	userID := uuid.New()

	if _, err := svc.AddWhitelist(ctx, userID, "news@shop.example.com", "keep this one"); err != nil {
		t.Fatalf("AddWhitelist address: %v", err)
	}
	if _, err := svc.AddWhitelist(ctx, userID, "shop.example.com", ""); err != nil {
		t.Fatalf("AddWhitelist domain: %v", err)
	}

	// Only the full-address pattern maps to a single sender's records.
	if len(subs.activations) != 1 {
		t.Fatalf("activations = %v, want one", subs.activations)
	}
	if got := subs.activations[0]; got.sender != "news@shop.example.com" || got.active {
		t.Errorf("activation = %+v, want deactivate news@shop.example.com", got)
	}
}

func TestRemoveWhitelistReactivatesSender(t *testing.T) {
	repo := &fakeWhitelistRepo{}
	subs := &fakeSubsRepo{}
	svc := newTestService(repo, subs)
	ctx := context.Background()
	userID := uuid.New()

	entry, err := svc.AddWhitelist(ctx, userID, "news@shop.example.com", "")
	if err != nil {
		t.Fatalf("AddWhitelist: %v", err)
	}

	if err := svc.RemoveWhitelist(ctx, userID, entry.ID); err != nil {
		t.Fatalf("RemoveWhitelist: %v", err)
	}
	last := subs.activations[len(subs.activations)-1]
	if last.sender != "news@shop.example.com" || !last.active {
		t.Errorf("activation = %+v, want reactivate", last)
	}

	if err := svc.RemoveWhitelist(ctx, userID, 999); err == nil {
		t.Fatal("expected not found for unknown entry")
	} else if ae := apperr.AsAppError(err); ae == nil || ae.Code != apperr.CodeNotFound {
		t.Errorf("error = %v, want NOT_FOUND", err)
	}
}

func TestIsWhitelistedMatching(t *testing.T) {
	userID := uuid.New()
	otherUser := uuid.New()
	repo := &fakeWhitelistRepo{entries: []*domain.WhitelistEntry{
		{ID: 1, UserID: userID, Pattern: "news@shop.example.com"},
		{ID: 2, UserID: userID, Pattern: "letters.example.org"},
		{ID: 3, UserID: otherUser, Pattern: "other.example.net"},
	}}
	svc := newTestService(repo, &fakeSubsRepo{})
	ctx := context.Background()

	tests := []struct {
		name   string
		sender string
		want   bool
	}{
		{"exact address", "news@shop.example.com", true},
		{"address case insensitive", "News@Shop.Example.COM", true},
		{"domain match", "digest@letters.example.org", true},
		{"other sender same domain as address entry", "promo@shop.example.com", false},
		{"other user's pattern", "a@other.example.net", false},
		{"unlisted", "x@unrelated.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := svc.IsWhitelisted(ctx, userID, tt.sender); got != tt.want {
				t.Errorf("IsWhitelisted(%q) = %v, want %v", tt.sender, got, tt.want)
			}
		})
	}
}

func TestIsWhitelistedFailsOpen(t *testing.T) {
	repo := &fakeWhitelistRepo{listErr: errors.New("db down")}
	svc := newTestService(repo, &fakeSubsRepo{})

	if svc.IsWhitelisted(context.Background(), uuid.New(), "news@shop.example.com") {
		t.Error("lookup failure must not whitelist a sender")
	}
}
