package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mailsweep/core/domain"
	"mailsweep/core/port/in"
	"mailsweep/pkg/logger"
)

type recordingDetection struct {
	mu    sync.Mutex
	users []uuid.UUID
	folds []*domain.NormalizedMessage
}

func (r *recordingDetection) Detect(context.Context, uuid.UUID) (*in.DetectResult, error) {
	return &in.DetectResult{}, nil
}

func (r *recordingDetection) ProcessMessage(_ context.Context, userID uuid.UUID, msg *domain.NormalizedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	r.folds = append(r.folds, msg)
	return nil
}

func (r *recordingDetection) RetryDeferred(context.Context, int) (int, int, error) {
	return 0, 0, nil
}

func (r *recordingDetection) foldCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.folds)
}

func newTestPool(det in.DetectionService) *Pool {
	log := logger.New(logger.Config{Level: logger.LevelError, Service: "test"})
	handler := NewHandler(NewScanProcessor(det, log), nil)
	cfg := DefaultPoolConfig()
	cfg.Workers = 2
	cfg.SubmitRatePerSec = 0
	return NewPool(handler, cfg, zerolog.Nop())
}

func TestPoolProcessesChunkKeyedScanJob(t *testing.T) {
	det := &recordingDetection{}
	p := newTestPool(det)
	p.Start()
	defer p.Stop()

	userID := uuid.New()
	msg := &domain.NormalizedMessage{
		ID:            "m1",
		SenderAddress: "news@letters.example.com",
		Subject:       "Issue #1",
		ReceivedAt:    time.Now(),
	}
	job := NewMessage(JobScanMessage, map[string]any{
		"user_id": userID.String(),
		"message": msg,
	})
	job.ChunkKey = msg.SenderAddress

	if !p.Submit(job) {
		t.Fatal("submit rejected")
	}

	deadline := time.Now().Add(5 * time.Second)
	for det.foldCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scan.message job was not processed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	det.mu.Lock()
	defer det.mu.Unlock()
	if det.users[0] != userID {
		t.Errorf("userid = %v, want %v", det.users[0], userID)
	}
	if det.folds[0].SenderAddress != "news@letters.example.com" {
		t.Errorf("sender = %q, want news@letters.example.com", det.folds[0].SenderAddress)
	}
}

func TestChunkKeyRouting(t *testing.T) {
	keyed := NewMessage(JobScanMessage, nil)
	keyed.ChunkKey = "news@letters.example.com"
	if chunkKey(keyed) != "news@letters.example.com" {
		t.Errorf("chunkKey = %q, want the sender address", chunkKey(keyed))
	}

	unkeyed := NewMessage(JobScanFull, nil)
	if chunkKey(unkeyed) != unkeyed.ID {
		t.Errorf("unkeyed jobs must route by id, got %q", chunkKey(unkeyed))
	}
}

func TestSubmitRejectedOutsideRunningPool(t *testing.T) {
	p := newTestPool(&recordingDetection{})

	if p.Submit(NewMessage(JobScanFull, nil)) {
		t.Error("Submit before Start must be rejected")
	}
	if p.SubmitPriority(NewPriorityMessage(JobUnsubscribeBulk, nil, PriorityHigh)) {
		t.Error("SubmitPriority before Start must be rejected")
	}

	p.Start()
	p.Stop()

	if p.Submit(NewMessage(JobScanFull, nil)) {
		t.Error("Submit after Stop must be rejected")
	}
	if p.SubmitPriority(NewPriorityMessage(JobUnsubscribeBulk, nil, PriorityHigh)) {
		t.Error("SubmitPriority after Stop must be rejected")
	}
}
