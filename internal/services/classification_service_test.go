package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendwise/internal/classifier"
	"spendwise/internal/config"
	"spendwise/internal/core"
	"spendwise/internal/storage"
)

// fakeClassifier answers by description and tracks concurrency.
type fakeClassifier struct {
	mu       sync.Mutex
	fail     map[string]error
	calls    []string
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (f *fakeClassifier) Classify(ctx context.Context, req classifier.Request, _ *config.Snapshot) (classifier.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls = append(f.calls, req.Text)
	err := f.fail[req.Text]
	f.mu.Unlock()

	if err != nil {
		return classifier.Result{}, err
	}
	return classifier.Result{L1: "餐饮美食", L2: "外卖"}, nil
}

func fiveMeals(t *testing.T) (*storage.SQLiteRepository, []int64) {
	t.Helper()
	repo := newRepo(t)
	ids := seed(t, repo,
		row{ext: "1", when: "2024-03-01 12:00:00", amount: "-10", desc: "饭1"},
		row{ext: "2", when: "2024-03-01 12:00:01", amount: "-11", desc: "饭2"},
		row{ext: "3", when: "2024-03-01 12:00:02", amount: "-12", desc: "饭3"},
		row{ext: "4", when: "2024-03-01 12:00:03", amount: "-13", desc: "饭4"},
		row{ext: "5", when: "2024-03-01 12:00:04", amount: "-14", desc: "饭5"},
	)
	return repo, ids
}

func intPtr(n int) *int { return &n }

func TestClassifyBatchHonoursLimit(t *testing.T) {
	store, ids := fiveMeals(t)
	cls := &fakeClassifier{}
	svc := NewClassificationService(store, cls, snapshotSource(t, nil), quietLogger(), nil)

	sum, err := svc.ClassifyBatch(context.Background(), intPtr(2))
	require.NoError(t, err)
	assert.Equal(t, BatchSummary{MatchingTotal: 5, Attempted: 2, Succeeded: 2}, withoutDuration(sum))
	assert.ElementsMatch(t, []string{"饭1", "饭2"}, cls.calls, "creation order")

	e, err := store.GetExpense(context.Background(), ids[0])
	require.NoError(t, err)
	assert.True(t, e.IsAIClassified)
	assert.Equal(t, "餐饮美食", e.AICategoryL1)

	left, err := svc.UnclassifiedIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ids[2:], left)
}

func TestClassifyBatchRejectsNonPositiveLimit(t *testing.T) {
	store, _ := fiveMeals(t)
	cls := &fakeClassifier{}
	svc := NewClassificationService(store, cls, snapshotSource(t, nil), quietLogger(), nil)

	for _, n := range []int{0, -3} {
		_, err := svc.ClassifyBatch(context.Background(), intPtr(n))
		assert.ErrorIs(t, err, core.ErrValidation)
	}
	assert.Empty(t, cls.calls)
}

func TestClassifyBatchDefaultLimitAndConcurrency(t *testing.T) {
	store, _ := fiveMeals(t)
	cls := &fakeClassifier{delay: 20 * time.Millisecond}
	settings := snapshotSource(t, func(s *config.Settings) {
		s.Classification.DefaultBatchLimit = 4
		s.Classification.Concurrency = 2
	})
	svc := NewClassificationService(store, cls, settings, quietLogger(), nil)

	sum, err := svc.ClassifyBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Attempted)
	assert.LessOrEqual(t, cls.peak.Load(), int32(2))
}

func TestClassifyBatchAbsorbsRecordFailures(t *testing.T) {
	store, ids := fiveMeals(t)
	cls := &fakeClassifier{fail: map[string]error{
		"饭3": &classifier.Error{Kind: classifier.KindUnavailable, Service: "deepseek", Err: errors.New("503")},
	}}
	writes := 0
	var mu sync.Mutex
	svc := NewClassificationService(store, cls, snapshotSource(t, nil), quietLogger(), func() {
		mu.Lock()
		writes++
		mu.Unlock()
	})

	sum, err := svc.ClassifyBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, BatchSummary{MatchingTotal: 5, Attempted: 5, Succeeded: 4, Failed: 1}, withoutDuration(sum))
	assert.Equal(t, 4, writes)

	e, err := store.GetExpense(context.Background(), ids[2])
	require.NoError(t, err)
	assert.False(t, e.IsAIClassified, "failed record left unchanged")
}

func TestClassifyBatchNothingEligible(t *testing.T) {
	svc := NewClassificationService(newRepo(t), &fakeClassifier{}, snapshotSource(t, nil), quietLogger(), nil)

	sum, err := svc.ClassifyBatch(context.Background(), intPtr(10))
	require.NoError(t, err)
	assert.Equal(t, BatchSummary{}, withoutDuration(sum))
}

func TestClassifySingle(t *testing.T) {
	store, ids := fiveMeals(t)
	cls := &fakeClassifier{fail: map[string]error{"饭2": errors.New("boom")}}
	svc := NewClassificationService(store, cls, snapshotSource(t, nil), quietLogger(), nil)
	ctx := context.Background()

	e, err := svc.ClassifySingle(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, e.IsAIClassified)
	assert.Equal(t, "外卖", e.AICategoryL2)

	_, err = svc.ClassifySingle(ctx, 9999)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = svc.ClassifySingle(ctx, ids[1])
	var ce *ClassificationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ids[1], ce.ExpenseID)

	require.NoError(t, store.ConfirmCategories(ctx, ids[2], core.UserCategories{L1: "交通出行", L2: "打车"}))
	calls := len(cls.calls)
	_, err = svc.ClassifySingle(ctx, ids[2])
	assert.ErrorIs(t, err, core.ErrNotEligible)
	assert.Len(t, cls.calls, calls, "no external call for ineligible records")
}

type blankStore struct {
	ClassificationStore
}

func (blankStore) GetExpense(_ context.Context, id int64) (core.Expense, error) {
	return core.Expense{ID: id, TransactionTime: time.Now(), AIDescription: "  ", RawDescription: ""}, nil
}

func TestClassifySingleBlankDescription(t *testing.T) {
	cls := &fakeClassifier{}
	svc := NewClassificationService(blankStore{}, cls, snapshotSource(t, nil), quietLogger(), nil)

	_, err := svc.ClassifySingle(context.Background(), 1)
	assert.ErrorIs(t, err, core.ErrNotEligible)
	assert.Empty(t, cls.calls)
}

// Two timeouts then a valid reply, within the three-attempt cap.
func TestClassifyBatchRecoversFromTransientTimeouts(t *testing.T) {
	store, ids := fiveMeals(t)
	comp := &flakyCompleter{timeouts: 2}
	client := classifier.NewClient(completerSource{comp}, quietLogger(),
		classifier.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	svc := NewClassificationService(store, client, snapshotSource(t, nil), quietLogger(), nil)

	sum, err := svc.ClassifyBatch(context.Background(), intPtr(1))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 0, sum.Failed)
	assert.Equal(t, 3, comp.calls)

	e, err := store.GetExpense(context.Background(), ids[0])
	require.NoError(t, err)
	assert.True(t, e.IsAIClassified)
	assert.Equal(t, "交通出行", e.AICategoryL1)
	assert.Equal(t, "打车", e.AICategoryL2)
}

func TestClearSuggestions(t *testing.T) {
	store, ids := fiveMeals(t)
	var writes atomic.Int32
	svc := NewClassificationService(store, &fakeClassifier{}, snapshotSource(t, nil), quietLogger(), func() { writes.Add(1) })
	ctx := context.Background()

	_, err := svc.ClassifyBatch(ctx, intPtr(2))
	require.NoError(t, err)

	n, err := svc.ClearSuggestions(ctx, ids[:2])
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = svc.ClearSuggestions(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	left, err := svc.UnclassifiedIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, left, 5)
	assert.Equal(t, int32(3), writes.Load())
}

type flakyCompleter struct {
	mu       sync.Mutex
	timeouts int
	calls    int
}

func (f *flakyCompleter) Complete(context.Context, classifier.Prompt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.timeouts {
		return "", context.DeadlineExceeded
	}
	return "L1 Category: 交通出行\nL2 Category: 打车", nil
}

type completerSource struct{ c classifier.Completer }

func (s completerSource) Completer(context.Context, config.ServiceConfig) (classifier.Completer, error) {
	return s.c, nil
}

func withoutDuration(s BatchSummary) BatchSummary {
	s.Duration = 0
	return s
}
