package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"mailsweep/core/port/in"
	"mailsweep/pkg/logger"
)

// ScanProcessor handles detection jobs.
type ScanProcessor struct {
	detection in.DetectionService
	log       *logger.Logger
}

func NewScanProcessor(detection in.DetectionService, log *logger.Logger) *ScanProcessor {
	return &ScanProcessor{detection: detection, log: log}
}

// ProcessFullScan runs a full mailbox scan for a user.
func (p *ScanProcessor) ProcessFullScan(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[ScanFullPayload](msg)
	if err != nil {
		return fmt.Errorf("invalid scan.full payload: %w", err)
	}
	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}

	result, err := p.detection.Detect(ctx, userID)
	if err != nil {
		return err
	}

	p.log.WithFields(map[string]any{
		"user_id":  payload.UserID,
		"scanned":  result.ScannedMessages,
		"detected": len(result.Subscriptions),
	}).Info("background scan finished")
	return nil
}

// ProcessMessage folds one incoming message. Jobs for the same sender share a
// chunk key, so the pool already serializes them.
func (p *ScanProcessor) ProcessMessage(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[ScanMessagePayload](msg)
	if err != nil {
		return fmt.Errorf("invalid scan.message payload: %w", err)
	}
	if payload.Message == nil {
		return fmt.Errorf("scan.message payload has no message")
	}
	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}

	return p.detection.ProcessMessage(ctx, userID, payload.Message)
}

// ProcessDeferredRetry replays storage-deferred sender updates.
func (p *ScanProcessor) ProcessDeferredRetry(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[DeferredRetryPayload](msg)
	if err != nil {
		return fmt.Errorf("invalid deferred.retry payload: %w", err)
	}
	limit := payload.Limit
	if limit <= 0 {
		limit = 100
	}

	retried, succeeded, err := p.detection.RetryDeferred(ctx, limit)
	if err != nil {
		return err
	}
	if retried > 0 {
		p.log.WithFields(map[string]any{
			"retried":   retried,
			"succeeded": succeeded,
		}).Info("deferred updates retried")
	}
	return nil
}
