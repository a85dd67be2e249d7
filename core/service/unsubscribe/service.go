package unsubscribe

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"mailsweep/core/domain"
	"mailsweep/core/port/in"
	"mailsweep/pkg/apperr"
	"mailsweep/pkg/logger"
)

// Service implements the subscription query and unsubscribe lifecycle port.
type Service struct {
	subs     domain.SubscriptionRepository
	aggs     domain.SenderAggregateRepository
	executor *Executor
	log      *logger.Logger

	bulkConcurrency int
	limiter         *rate.Limiter
}

var _ in.SubscriptionService = (*Service)(nil)

func NewService(
	subs domain.SubscriptionRepository,
	aggs domain.SenderAggregateRepository,
	executor *Executor,
	bulkConcurrency int,
	outboundRatePerSec float64,
	log *logger.Logger,
) *Service {
	if bulkConcurrency < 1 {
		bulkConcurrency = 1
	}
	return &Service{
		subs:            subs,
		aggs:            aggs,
		executor:        executor,
		log:             log,
		bulkConcurrency: bulkConcurrency,
		limiter:         rate.NewLimiter(rate.Limit(outboundRatePerSec), 1),
	}
}

func (s *Service) ListSubscriptions(ctx context.Context, userID uuid.UUID, filter domain.SubscriptionListFilter) ([]*domain.SubscriptionRecord, error) {
	return s.subs.List(ctx, userID, filter)
}

func (s *Service) GetSubscription(ctx context.Context, userID uuid.UUID, id int64) (*domain.SubscriptionRecord, error) {
	rec, err := s.subs.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperr.NotFound("subscription")
	}
	return rec, nil
}

func (s *Service) GetStats(ctx context.Context, userID uuid.UUID) (*domain.SubscriptionStats, error) {
	return s.subs.Stats(ctx, userID)
}

// Unsubscribe runs one unsubscribe attempt for a subscription. The record
// moves to pending before the outbound call and lands on succeeded or failed
// afterwards; a method that already failed is never retried, the next one in
// priority order is used instead.
func (s *Service) Unsubscribe(ctx context.Context, userID uuid.UUID, id int64) (*in.UnsubscribeOutcome, error) {
	rec, err := s.GetSubscription(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !rec.IsActive {
		return nil, apperr.BadRequest("sender is whitelisted")
	}

	switch rec.Status {
	case domain.StatusSucceeded:
		return nil, apperr.Conflict("already unsubscribed")
	case domain.StatusPending:
		return nil, apperr.Conflict("unsubscribe already in progress")
	}

	method, err := s.methodFor(ctx, rec)
	if err != nil {
		return nil, err
	}
	if method.Kind == domain.MethodUnknown {
		return &in.UnsubscribeOutcome{
			SubscriptionID: rec.ID,
			Status:         rec.Status,
			Method:         domain.MethodUnknown,
			Reason:         ReasonNoMethod,
		}, nil
	}

	if err := rec.Transition(domain.StatusPending); err != nil {
		return nil, err
	}
	rec.Method = method
	rec.NoteAttempt(method.Kind)
	if err := s.subs.UpdateStatus(ctx, rec); err != nil {
		return nil, err
	}

	execErr := s.executor.Execute(ctx, userID, rec.SenderAddress, method)

	outcome := &in.UnsubscribeOutcome{SubscriptionID: rec.ID, Method: method.Kind}
	if execErr != nil {
		reason := FailureReason(execErr)
		if err := rec.Transition(domain.StatusFailed); err != nil {
			return nil, err
		}
		rec.StatusReason = reason
		outcome.Status = domain.StatusFailed
		outcome.Reason = reason
		s.log.WithError(execErr).WithFields(map[string]any{
			"subscription_id": rec.ID,
			"method":          string(method.Kind),
			"reason":          reason,
		}).Warn("unsubscribe attempt failed")
	} else {
		if err := rec.Transition(domain.StatusSucceeded); err != nil {
			return nil, err
		}
		rec.StatusReason = ""
		outcome.Status = domain.StatusSucceeded
	}

	if err := s.subs.UpdateStatus(ctx, rec); err != nil {
		return nil, err
	}
	return outcome, nil
}

// methodFor picks the method for the next attempt. First attempts use the
// resolved method stored on the record; after a failure the tried kinds are
// excluded so the attempt degrades down the priority order.
func (s *Service) methodFor(ctx context.Context, rec *domain.SubscriptionRecord) (domain.UnsubscribeMethod, error) {
	if rec.Status == domain.StatusNotRequested && rec.Method.Kind != domain.MethodUnknown {
		return rec.Method, nil
	}

	agg, err := s.aggs.Get(ctx, rec.UserID, rec.SenderAddress)
	if err != nil {
		return domain.UnsubscribeMethod{}, err
	}
	if agg == nil {
		// No aggregate survives for this sender; fall back to the provider
		// filter unless that already failed.
		if rec.HasTriedMethod(domain.MethodFilter) {
			return domain.UnsubscribeMethod{Kind: domain.MethodUnknown}, nil
		}
		return domain.UnsubscribeMethod{Kind: domain.MethodFilter}, nil
	}
	return ResolveExcluding(agg, rec.TriedMethods), nil
}

// BulkUnsubscribe attempts every requested subscription and reports one
// outcome per item. Item failures never abort the batch.
func (s *Service) BulkUnsubscribe(ctx context.Context, userID uuid.UUID, ids []int64) (*in.BulkUnsubscribeResult, error) {
	if len(ids) == 0 {
		return nil, apperr.MissingField("ids")
	}

	outcomes := make([]*in.UnsubscribeOutcome, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.bulkConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				outcomes[i] = &in.UnsubscribeOutcome{
					SubscriptionID: id,
					Status:         domain.StatusFailed,
					Reason:         "canceled",
				}
				return nil
			}

			outcome, err := s.Unsubscribe(gctx, userID, id)
			if err != nil {
				outcomes[i] = &in.UnsubscribeOutcome{
					SubscriptionID: id,
					Status:         domain.StatusFailed,
					Reason:         err.Error(),
				}
				return nil
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()

	result := &in.BulkUnsubscribeResult{Requested: len(ids), Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Status == domain.StatusSucceeded {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

// MarkResubscribed records that the user signed up again after a successful
// unsubscribe. The record returns to NotRequested right away; confidence and
// category stay as detected, and no provider-side action is taken.
func (s *Service) MarkResubscribed(ctx context.Context, userID uuid.UUID, id int64) (*domain.SubscriptionRecord, error) {
	rec, err := s.GetSubscription(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(rec.Status, domain.StatusNotRequested) {
		return nil, apperr.InvalidTransition(string(rec.Status), string(domain.StatusNotRequested))
	}
	rec.ResetUnsubscribeState()
	if err := s.subs.UpdateStatus(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
