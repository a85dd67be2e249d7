package detection

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mailsweep/core/domain"
	"mailsweep/core/port/in"
	"mailsweep/core/port/out"
	"mailsweep/pkg/logger"
)

// Service runs detection over a mailbox. Full scans page through the message
// source; incremental updates delegate straight to the detector.
type Service struct {
	detector *Detector
	source   out.MessageSourcePort
	subs     domain.SubscriptionRepository
	aggs     domain.SenderAggregateRepository
	log      *logger.Logger

	batchSize   int
	concurrency int
}

var _ in.DetectionService = (*Service)(nil)

func NewService(
	detector *Detector,
	source out.MessageSourcePort,
	subs domain.SubscriptionRepository,
	aggs domain.SenderAggregateRepository,
	batchSize, concurrency int,
	log *logger.Logger,
) *Service {
	if batchSize < 1 {
		batchSize = 200
	}
	if concurrency < 1 {
		concurrency = runtime.NumCPU()
	}
	return &Service{
		detector:    detector,
		source:      source,
		subs:        subs,
		aggs:        aggs,
		log:         log,
		batchSize:   batchSize,
		concurrency: concurrency,
	}
}

// Detect scans the whole mailbox. Each page is grouped by sender and the
// groups are processed concurrently; within a group messages stay in order,
// and pages are consumed sequentially, so no two goroutines ever touch the
// same sender at the same time.
func (s *Service) Detect(ctx context.Context, userID uuid.UUID) (*in.DetectResult, error) {
	started := time.Now()
	scanned := 0
	senders := make(map[string]struct{})

	pageToken := ""
	for {
		page, err := s.source.ListMessages(ctx, userID, &out.ListMessagesOptions{
			PageToken:   pageToken,
			PageSize:    s.batchSize,
			IncludeSent: true,
		})
		if err != nil {
			return nil, err
		}

		groups := groupBySender(page.Messages)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for _, msgs := range groups {
			g.Go(func() error {
				for _, msg := range msgs {
					if err := s.detector.ProcessMessage(gctx, userID, msg); err != nil {
						return err
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		scanned += len(page.Messages)
		for sender := range groups {
			senders[sender] = struct{}{}
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	subs, err := s.subs.List(ctx, userID, domain.SubscriptionListFilter{ActiveOnly: false})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(map[string]any{
		"user_id":  userID.String(),
		"scanned":  scanned,
		"senders":  len(senders),
		"detected": len(subs),
	}).WithDuration(time.Since(started)).Info("mailbox scan complete")

	return &in.DetectResult{
		ScannedMessages: scanned,
		SendersSeen:     len(senders),
		Subscriptions:   subs,
	}, nil
}

func (s *Service) ProcessMessage(ctx context.Context, userID uuid.UUID, msg *domain.NormalizedMessage) error {
	return s.detector.ProcessMessage(ctx, userID, msg)
}

// RetryDeferred replays sender updates that previously failed against
// storage. Each deferred entry re-fetches its message and runs the normal
// pipeline; entries that fail again stay queued with their attempt count
// bumped by a fresh deferral.
func (s *Service) RetryDeferred(ctx context.Context, limit int) (int, int, error) {
	entries, err := s.aggs.ListDeferred(ctx, time.Now(), limit)
	if err != nil {
		return 0, 0, err
	}

	succeeded := 0
	for _, entry := range entries {
		msg, err := s.source.GetMessage(ctx, entry.UserID, entry.MessageID)
		if err != nil {
			s.log.WithError(err).WithField("message_id", entry.MessageID).Warn("deferred message fetch failed")
			continue
		}

		if err := s.detector.ProcessMessage(ctx, entry.UserID, msg); err != nil {
			continue
		}
		if err := s.aggs.ClearDeferred(ctx, entry.ID); err != nil {
			s.log.WithError(err).WithField("deferred_id", entry.ID).Warn("deferred entry cleanup failed")
			continue
		}
		succeeded++
	}
	return len(entries), succeeded, nil
}

// groupBySender partitions a page by counterpart address, preserving the
// original order inside each group.
func groupBySender(msgs []*domain.NormalizedMessage) map[string][]*domain.NormalizedMessage {
	groups := make(map[string][]*domain.NormalizedMessage)
	for _, msg := range msgs {
		key := strings.ToLower(msg.SenderAddress)
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], msg)
	}
	return groups
}
