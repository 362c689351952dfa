package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stubBatchClassifier struct {
	mu     sync.Mutex
	calls  int
	limits []*int
	err    error
	block  bool
}

func (s *stubBatchClassifier) ClassifyBatch(ctx context.Context, limit *int) (BatchSummary, error) {
	s.mu.Lock()
	s.calls++
	s.limits = append(s.limits, limit)
	block, err := s.block, s.err
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return BatchSummary{}, ctx.Err()
	}
	return BatchSummary{Attempted: 1, Succeeded: 1}, err
}

func (s *stubBatchClassifier) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestDefaultClassifyProcessorConfig(t *testing.T) {
	config := DefaultClassifyProcessorConfig()

	if config.PollInterval != 5*time.Minute {
		t.Errorf("expected PollInterval 5m, got %v", config.PollInterval)
	}
	if config.BatchSize != 0 {
		t.Errorf("expected BatchSize 0, got %d", config.BatchSize)
	}
}

func TestClassifyProcessor_IsRunning(t *testing.T) {
	processor := NewClassifyProcessor(&stubBatchClassifier{}, DefaultClassifyProcessorConfig(), quietLogger())

	if processor.IsRunning() {
		t.Error("processor should not be running initially")
	}
}

func TestClassifyProcessor_StartTwice(t *testing.T) {
	config := DefaultClassifyProcessorConfig()
	processor := NewClassifyProcessor(&stubBatchClassifier{}, config, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := processor.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer processor.Stop(context.Background())

	if err := processor.Start(ctx); err == nil {
		t.Error("expected error when starting already running processor")
	}
}

func TestClassifyProcessor_RejectsZeroInterval(t *testing.T) {
	processor := NewClassifyProcessor(&stubBatchClassifier{}, ClassifyProcessorConfig{}, quietLogger())

	if err := processor.Start(context.Background()); err == nil {
		t.Error("expected error for zero poll interval")
	}
	if processor.IsRunning() {
		t.Error("processor should not be running after a rejected start")
	}
}

func TestClassifyProcessor_StopNotRunning(t *testing.T) {
	processor := NewClassifyProcessor(&stubBatchClassifier{}, DefaultClassifyProcessorConfig(), quietLogger())

	if err := processor.Stop(context.Background()); err != nil {
		t.Errorf("Stop on non-running processor should not error: %v", err)
	}
}

func TestClassifyProcessor_RunsImmediatelyAndOnTick(t *testing.T) {
	stub := &stubBatchClassifier{err: errors.New("upstream down")}
	config := ClassifyProcessorConfig{PollInterval: 10 * time.Millisecond, BatchSize: 7}
	processor := NewClassifyProcessor(stub, config, quietLogger())

	if err := processor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for stub.callCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := processor.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if processor.IsRunning() {
		t.Error("processor should not be running after Stop")
	}
	if n := stub.callCount(); n < 3 {
		t.Fatalf("expected at least 3 batches despite errors, got %d", n)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.limits[0] == nil || *stub.limits[0] != 7 {
		t.Errorf("expected batch size 7 passed as limit, got %v", stub.limits[0])
	}
}

func TestClassifyProcessor_StopCancelsBatchInFlight(t *testing.T) {
	stub := &stubBatchClassifier{block: true}
	processor := NewClassifyProcessor(stub, ClassifyProcessorConfig{PollInterval: time.Hour}, quietLogger())

	if err := processor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	for stub.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := processor.Stop(ctx); err != nil {
		t.Fatalf("stop should cancel the blocked batch: %v", err)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.limits[0] != nil {
		t.Error("zero batch size should pass a nil limit")
	}
}
