package worker

import (
	"context"

	"github.com/goccy/go-json"

	"mailsweep/pkg/logger"
)

type Handler struct {
	scanProcessor        *ScanProcessor
	unsubscribeProcessor *UnsubscribeProcessor
}

func NewHandler(scanProcessor *ScanProcessor, unsubscribeProcessor *UnsubscribeProcessor) *Handler {
	return &Handler{
		scanProcessor:        scanProcessor,
		unsubscribeProcessor: unsubscribeProcessor,
	}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("processing message: %s", msg.Type)

	switch msg.Type {
	case JobScanFull:
		return h.scanProcessor.ProcessFullScan(ctx, msg)
	case JobScanMessage:
		return h.scanProcessor.ProcessMessage(ctx, msg)
	case JobDeferredRetry:
		return h.scanProcessor.ProcessDeferredRetry(ctx, msg)

	case JobUnsubscribe:
		return h.unsubscribeProcessor.ProcessUnsubscribe(ctx, msg)
	case JobUnsubscribeBulk:
		return h.unsubscribeProcessor.ProcessBulk(ctx, msg)

	default:
		logger.Warn("unknown job type: %s", msg.Type)
		return nil
	}
}

func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
