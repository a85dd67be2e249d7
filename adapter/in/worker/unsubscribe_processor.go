package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"mailsweep/core/port/in"
	"mailsweep/pkg/logger"
)

// UnsubscribeProcessor handles unsubscribe jobs submitted for background
// execution.
type UnsubscribeProcessor struct {
	subscriptions in.SubscriptionService
	log           *logger.Logger
}

func NewUnsubscribeProcessor(subscriptions in.SubscriptionService, log *logger.Logger) *UnsubscribeProcessor {
	return &UnsubscribeProcessor{subscriptions: subscriptions, log: log}
}

func (p *UnsubscribeProcessor) ProcessUnsubscribe(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[UnsubscribePayload](msg)
	if err != nil {
		return fmt.Errorf("invalid unsubscribe.request payload: %w", err)
	}
	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}

	outcome, err := p.subscriptions.Unsubscribe(ctx, userID, payload.SubscriptionID)
	if err != nil {
		return err
	}

	p.log.WithFields(map[string]any{
		"subscription_id": outcome.SubscriptionID,
		"status":          string(outcome.Status),
		"method":          string(outcome.Method),
		"reason":          outcome.Reason,
	}).Info("unsubscribe attempt finished")
	return nil
}

func (p *UnsubscribeProcessor) ProcessBulk(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[UnsubscribeBulkPayload](msg)
	if err != nil {
		return fmt.Errorf("invalid unsubscribe.bulk payload: %w", err)
	}
	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}

	result, err := p.subscriptions.BulkUnsubscribe(ctx, userID, payload.SubscriptionIDs)
	if err != nil {
		return err
	}

	p.log.WithFields(map[string]any{
		"requested": result.Requested,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	}).Info("bulk unsubscribe finished")
	return nil
}
