package detection

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailsweep/core/domain"
	"mailsweep/core/service/unsubscribe"
	"mailsweep/pkg/logger"
	"mailsweep/pkg/retry"
)

// Detector folds messages into sender aggregates and keeps detection results
// current. Safe for concurrent use across senders; callers must serialize
// updates for the same sender themselves.
type Detector struct {
	aggs   domain.SenderAggregateRepository
	subs   domain.SubscriptionRepository
	scorer *Scorer
	guard  *Guard
	log    *logger.Logger

	recordThreshold float64
	retryPolicy     retry.Policy
	maxRetries      int

	// firstNameOf resolves the user's first name for personalization checks.
	firstNameOf func(ctx context.Context, userID uuid.UUID) string

	// threadReplied asks the mail provider whether the user has sent mail in
	// a thread. Consulted once per newly seen thread, because a single folded
	// message cannot carry the rest of its thread.
	threadReplied func(ctx context.Context, userID uuid.UUID, threadID string) (bool, error)
}

func NewDetector(
	aggs domain.SenderAggregateRepository,
	subs domain.SubscriptionRepository,
	guard *Guard,
	recordThreshold float64,
	retryPolicy retry.Policy,
	maxRetries int,
	firstNameOf func(ctx context.Context, userID uuid.UUID) string,
	threadReplied func(ctx context.Context, userID uuid.UUID, threadID string) (bool, error),
	log *logger.Logger,
) *Detector {
	return &Detector{
		aggs:            aggs,
		subs:            subs,
		scorer:          NewScorer(),
		guard:           guard,
		log:             log,
		recordThreshold: recordThreshold,
		retryPolicy:     retryPolicy,
		maxRetries:      maxRetries,
		firstNameOf:     firstNameOf,
		threadReplied:   threadReplied,
	}
}

// ProcessMessage folds one message into its sender's aggregate and refreshes
// the sender's detection result. Storage failures defer the update instead of
// dropping the message.
func (d *Detector) ProcessMessage(ctx context.Context, userID uuid.UUID, msg *domain.NormalizedMessage) error {
	sender := strings.ToLower(strings.TrimSpace(msg.SenderAddress))
	if sender == "" {
		return nil
	}

	agg, err := d.aggs.Get(ctx, userID, sender)
	if err != nil {
		return d.deferUpdate(ctx, userID, sender, msg.ID, err)
	}
	if agg == nil {
		agg = domain.NewSenderAggregate(userID, sender)
	}

	d.fold(ctx, agg, msg)

	if err := retry.Do(ctx, d.retryPolicy, d.maxRetries, func() error {
		return d.aggs.Upsert(ctx, agg)
	}); err != nil {
		return d.deferUpdate(ctx, userID, sender, msg.ID, err)
	}

	return d.refreshRecord(ctx, userID, agg)
}

// fold applies the message plus the content checks that need the raw body.
func (d *Detector) fold(ctx context.Context, agg *domain.SenderAggregate, msg *domain.NormalizedMessage) {
	d.checkThreadReply(ctx, agg, msg)
	agg.Fold(msg)

	if msg.IsSentByUser {
		return
	}
	agg.NoteBodyUnsubscribeURL(ExtractBodyUnsubscribeURL(msg.BodySnippet))

	if d.firstNameOf != nil {
		if name := d.firstNameOf(ctx, agg.UserID); name != "" && LooksPersonalized(msg, name) {
			agg.NotePersonalization()
		}
	}
}

// checkThreadReply looks up conversation evidence the message itself cannot
// show: an inbound message opening a thread the user already replied in. Asked
// once per newly seen thread; a provider failure just skips the check.
func (d *Detector) checkThreadReply(ctx context.Context, agg *domain.SenderAggregate, msg *domain.NormalizedMessage) {
	if d.threadReplied == nil || msg.IsSentByUser || msg.ThreadID == "" {
		return
	}
	if agg.HasTwoWayConversation {
		return
	}
	if _, known := agg.ThreadDirections[msg.ThreadID]; known {
		return
	}

	replied, err := d.threadReplied(ctx, agg.UserID, msg.ThreadID)
	if err != nil {
		d.log.WithError(err).WithField("thread_id", msg.ThreadID).Debug("thread reply lookup failed")
		return
	}
	if replied {
		agg.NoteUserReplyInThread(msg.ThreadID)
	}
}

// refreshRecord rescores the aggregate and reconciles the stored subscription
// record with the new result.
func (d *Detector) refreshRecord(ctx context.Context, userID uuid.UUID, agg *domain.SenderAggregate) error {
	score := d.scorer.Score(agg)
	decision := d.guard.Apply(ctx, userID, agg, score.Confidence)
	if decision.Vetoed {
		return nil
	}

	existing, err := d.subs.GetBySender(ctx, userID, agg.SenderAddress)
	if err != nil {
		return err
	}
	if existing == nil && decision.Confidence < d.recordThreshold {
		return nil
	}

	rec := existing
	if rec == nil {
		rec = &domain.SubscriptionRecord{
			UserID:        userID,
			SenderAddress: agg.SenderAddress,
			Status:        domain.StatusNotRequested,
			CreatedAt:     time.Now(),
		}
	}

	// A successfully unsubscribed sender that shows up again has been
	// resubscribed; the record starts its lifecycle over.
	if rec.Status == domain.StatusSucceeded && agg.LastSeenAt.After(lastAttempt(rec)) {
		rec.ResetUnsubscribeState()
	}

	rec.SenderName = agg.SenderName
	rec.Confidence = decision.Confidence
	rec.ConfidenceTier = domain.TierForConfidence(decision.Confidence)
	rec.Category = score.Category
	rec.FrequencyClass = score.FrequencyClass
	rec.Signals = signalNames(score.Signals)
	rec.EmailCount = agg.EmailCount
	rec.FirstSeenAt = agg.FirstSeenAt
	rec.LastSeenAt = agg.LastSeenAt
	rec.RecentSubjects = agg.RecentSubjects
	rec.IsActive = !decision.Whitelisted
	rec.UpdatedAt = time.Now()

	// Only re-resolve the method while no attempt is in flight so a pending
	// execution keeps the method it started with.
	if rec.Status == domain.StatusNotRequested {
		rec.Method = unsubscribe.Resolve(agg)
	}

	return d.subs.Upsert(ctx, rec)
}

func lastAttempt(rec *domain.SubscriptionRecord) time.Time {
	if rec.LastAttemptAt == nil {
		return time.Time{}
	}
	return *rec.LastAttemptAt
}

func signalNames(signals []Signal) []string {
	names := make([]string, 0, len(signals))
	for _, s := range signals {
		names = append(names, s.Name)
	}
	return names
}

// deferUpdate parks a failed sender update for the retry scheduler. Losing the
// deferral record as well is logged loudly; nothing more can be done inline.
func (d *Detector) deferUpdate(ctx context.Context, userID uuid.UUID, sender, messageID string, cause error) error {
	deferred := &domain.DeferredUpdate{
		UserID:        userID,
		SenderAddress: sender,
		MessageID:     messageID,
		LastError:     cause.Error(),
		NextRetryAt:   time.Now().Add(d.retryPolicy.Delay(d.maxRetries)),
		CreatedAt:     time.Now(),
	}
	if err := d.aggs.MarkDeferred(ctx, deferred); err != nil {
		d.log.WithError(err).WithFields(map[string]any{
			"sender":     sender,
			"message_id": messageID,
		}).Error("sender update lost: deferral write failed")
		return err
	}
	d.log.WithError(cause).WithField("sender", sender).Warn("sender update deferred")
	return nil
}
