package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Bounds on the per-sender running state. Older entries are evicted FIFO so a
// noisy sender cannot grow an aggregate without limit.
const (
	IntervalSampleCap = 50  // inter-arrival samples retained
	RecentSubjectCap  = 5   // most recent subjects retained for display
	SubjectSetCap     = 512 // distinct-subject set membership bound
	ThreadMapCap      = 256 // threads tracked for two-way detection
)

// Thread direction bits for two-way conversation detection.
const (
	threadInbound  = 1 << 0
	threadOutbound = 1 << 1
)

// SenderAggregate holds the running statistics for one (user, sender address)
// pair. It is updated incrementally, one message at a time, in arrival order;
// no update ever re-reads history.
type SenderAggregate struct {
	ID            int64     `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	SenderAddress string    `json:"sender_address"`
	SenderName    string    `json:"sender_name,omitempty"`

	// Counters
	EmailCount           int `json:"email_count"`
	DistinctSubjectCount int `json:"distinct_subject_count"`

	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`

	// Inter-arrival durations in seconds, most recent last, capped at
	// IntervalSampleCap with FIFO eviction.
	IntervalSamples []float64 `json:"interval_samples"`

	// Header evidence accumulated across messages. The raw values are kept so
	// the unsubscribe resolver can re-resolve without re-reading mail.
	SawListUnsubscribe      bool   `json:"saw_list_unsubscribe"`
	SawOneClick             bool   `json:"saw_one_click"`
	LastListUnsubscribe     string `json:"last_list_unsubscribe,omitempty"`
	LastListUnsubscribePost string `json:"last_list_unsubscribe_post,omitempty"`
	LastBodyUnsubscribeURL  string `json:"last_body_unsubscribe_url,omitempty"`

	ProviderCategoryTally map[ProviderCategory]int `json:"provider_category_tally,omitempty"`

	HasTwoWayConversation bool `json:"has_two_way_conversation"`

	// PersonalizationHits counts messages that looked individually written
	// for the user rather than broadcast.
	PersonalizationHits int `json:"personalization_hits,omitempty"`

	// RecentSubjects holds the most recent subjects, newest last.
	RecentSubjects []string `json:"recent_subjects,omitempty"`

	// SubjectsSeen backs DistinctSubjectCount. Bounded; once full, new
	// subjects no longer grow the distinct count.
	SubjectsSeen map[string]bool `json:"subjects_seen,omitempty"`

	// ThreadDirections maps thread ID to observed direction bits.
	ThreadDirections map[string]int `json:"thread_directions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSenderAggregate creates an empty aggregate for a sender.
func NewSenderAggregate(userID uuid.UUID, senderAddress string) *SenderAggregate {
	now := time.Now()
	return &SenderAggregate{
		UserID:                userID,
		SenderAddress:         strings.ToLower(senderAddress),
		ProviderCategoryTally: make(map[ProviderCategory]int),
		SubjectsSeen:          make(map[string]bool),
		ThreadDirections:      make(map[string]int),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// Fold incorporates one message into the aggregate. O(1) amortized: counters,
// a bounded append, and map updates only. Messages must arrive in received
// order for a given sender; the orchestrator guarantees that.
//
// Messages sent by the user count only as conversation evidence, never toward
// the sender's volume statistics.
func (a *SenderAggregate) Fold(msg *NormalizedMessage) {
	a.UpdatedAt = time.Now()

	if msg.ThreadID != "" {
		a.noteThreadDirection(msg.ThreadID, msg.IsSentByUser)
	}

	if msg.IsSentByUser {
		return
	}

	if msg.SenderName != "" {
		a.SenderName = msg.SenderName
	}

	// Interval sample: skip the very first message, which has no prior.
	if a.EmailCount > 0 && msg.ReceivedAt.After(a.LastSeenAt) {
		a.appendInterval(msg.ReceivedAt.Sub(a.LastSeenAt).Seconds())
	}

	a.EmailCount++
	if a.FirstSeenAt.IsZero() || msg.ReceivedAt.Before(a.FirstSeenAt) {
		a.FirstSeenAt = msg.ReceivedAt
	}
	if msg.ReceivedAt.After(a.LastSeenAt) {
		a.LastSeenAt = msg.ReceivedAt
	}

	a.noteSubject(msg.Subject)

	if v := msg.Headers.ListUnsubscribe(); v != "" {
		a.SawListUnsubscribe = true
		a.LastListUnsubscribe = v
	}
	if v := msg.Headers.ListUnsubscribePost(); v != "" {
		a.SawOneClick = true
		a.LastListUnsubscribePost = v
	}

	// An inbound message replying to something is a reply to the user.
	if msg.Headers.InReplyTo() != "" {
		a.HasTwoWayConversation = true
	}

	if msg.ProviderCategory != ProviderCategoryUnknown {
		if a.ProviderCategoryTally == nil {
			a.ProviderCategoryTally = make(map[ProviderCategory]int)
		}
		a.ProviderCategoryTally[msg.ProviderCategory]++
	}
}

// NoteUserReplyInThread records provider-confirmed evidence that the user has
// sent mail in the given thread.
func (a *SenderAggregate) NoteUserReplyInThread(threadID string) {
	a.noteThreadDirection(threadID, true)
}

// NotePersonalization records a message that addressed the user personally.
func (a *SenderAggregate) NotePersonalization() {
	a.PersonalizationHits++
}

// NoteBodyUnsubscribeURL records an unsubscribe URL extracted from a message
// body. Kept separate from Fold so the aggregate stays free of pattern logic.
func (a *SenderAggregate) NoteBodyUnsubscribeURL(url string) {
	if url != "" {
		a.LastBodyUnsubscribeURL = url
	}
}

// noteThreadDirection tracks which directions a thread has seen. Any reply in
// either direction within the same thread marks the sender as conversational.
func (a *SenderAggregate) noteThreadDirection(threadID string, sentByUser bool) {
	if a.HasTwoWayConversation {
		return
	}
	if a.ThreadDirections == nil {
		a.ThreadDirections = make(map[string]int)
	}

	bit := threadInbound
	if sentByUser {
		bit = threadOutbound
	}

	dirs, known := a.ThreadDirections[threadID]
	if !known && len(a.ThreadDirections) >= ThreadMapCap {
		return
	}

	dirs |= bit
	a.ThreadDirections[threadID] = dirs
	if dirs == threadInbound|threadOutbound {
		a.HasTwoWayConversation = true
	}
}

func (a *SenderAggregate) noteSubject(subject string) {
	key := normalizeSubjectKey(subject)
	if key == "" {
		return
	}

	if a.SubjectsSeen == nil {
		a.SubjectsSeen = make(map[string]bool)
	}
	if !a.SubjectsSeen[key] && len(a.SubjectsSeen) < SubjectSetCap {
		a.SubjectsSeen[key] = true
		a.DistinctSubjectCount++
	}

	a.RecentSubjects = append(a.RecentSubjects, subject)
	if len(a.RecentSubjects) > RecentSubjectCap {
		a.RecentSubjects = a.RecentSubjects[len(a.RecentSubjects)-RecentSubjectCap:]
	}
}

func (a *SenderAggregate) appendInterval(seconds float64) {
	a.IntervalSamples = append(a.IntervalSamples, seconds)
	if len(a.IntervalSamples) > IntervalSampleCap {
		a.IntervalSamples = a.IntervalSamples[len(a.IntervalSamples)-IntervalSampleCap:]
	}
}

// MonthlyFrequency estimates messages per month over the observed span.
// Returns 0 when fewer than two messages have been seen.
func (a *SenderAggregate) MonthlyFrequency() float64 {
	if a.EmailCount < 2 || a.LastSeenAt.IsZero() || a.FirstSeenAt.IsZero() {
		return 0
	}
	spanDays := a.LastSeenAt.Sub(a.FirstSeenAt).Hours() / 24
	if spanDays < 1 {
		spanDays = 1
	}
	return float64(a.EmailCount) / (spanDays / 30.44)
}

// DominantProviderCategory returns the provider category seen most often.
func (a *SenderAggregate) DominantProviderCategory() ProviderCategory {
	best := ProviderCategoryUnknown
	bestCount := 0
	for cat, count := range a.ProviderCategoryTally {
		if count > bestCount {
			best = cat
			bestCount = count
		}
	}
	return best
}

// normalizeSubjectKey folds reply/forward prefixes and case so trivially
// re-sent subjects do not inflate the distinct count.
func normalizeSubjectKey(subject string) string {
	s := strings.ToLower(strings.TrimSpace(subject))
	for {
		switch {
		case strings.HasPrefix(s, "re:"):
			s = strings.TrimSpace(s[3:])
		case strings.HasPrefix(s, "fwd:"):
			s = strings.TrimSpace(s[4:])
		case strings.HasPrefix(s, "fw:"):
			s = strings.TrimSpace(s[3:])
		default:
			return s
		}
	}
}

// DeferredUpdate records a per-sender update that failed against storage and
// must be retried on a later cycle instead of being dropped.
type DeferredUpdate struct {
	ID            int64     `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	SenderAddress string    `json:"sender_address"`
	MessageID     string    `json:"message_id"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error,omitempty"`
	NextRetryAt   time.Time `json:"next_retry_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// SenderAggregateRepository is the storage collaborator contract for
// aggregates. All access is keyed by (userID, senderAddress); implementations
// must never leak rows across users.
type SenderAggregateRepository interface {
	// Get returns the aggregate for a sender, or nil if none exists yet.
	Get(ctx context.Context, userID uuid.UUID, senderAddress string) (*SenderAggregate, error)

	// Upsert writes the aggregate as a single read-modify-write unit.
	Upsert(ctx context.Context, agg *SenderAggregate) error

	// MarkDeferred records a failed per-sender update for later retry.
	MarkDeferred(ctx context.Context, d *DeferredUpdate) error

	// ListDeferred returns deferred updates due for retry.
	ListDeferred(ctx context.Context, due time.Time, limit int) ([]*DeferredUpdate, error)

	// ClearDeferred removes a deferred update after a successful retry.
	ClearDeferred(ctx context.Context, id int64) error
}
