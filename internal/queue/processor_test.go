package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"

	"adreel/internal/engine"
)

type stubRunner struct {
	err   error
	calls int
}

func (r *stubRunner) Run(ctx context.Context, generationID string) error {
	r.calls++
	return r.err
}

func genTask(t *testing.T, id string) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(GenerationPayload{GenerationID: id})
	if err != nil {
		t.Fatal(err)
	}
	return asynq.NewTask(TypeGenerationRun, payload)
}

func TestHandleGenerationRunAcksBusinessFailure(t *testing.T) {
	runner := &stubRunner{err: &engine.StageFailure{Stage: "videos", Err: errors.New("render rejected")}}
	p := NewProcessor(runner)

	// failed终态已落库，重投递只会重复得到同一个终态
	if err := p.HandleGenerationRun(context.Background(), genTask(t, "g1")); err != nil {
		t.Fatalf("business failure must be acked, got %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("runner calls = %d", runner.calls)
	}
}

func TestHandleGenerationRunRetriesInfrastructureError(t *testing.T) {
	cause := errors.New("save generation after story: connection reset")
	runner := &stubRunner{err: cause}
	p := NewProcessor(runner)

	err := p.HandleGenerationRun(context.Background(), genTask(t, "g2"))
	if err == nil {
		t.Fatal("infrastructure error must propagate so asynq redelivers")
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Fatal("infrastructure error must not skip retry")
	}
}

func TestHandleGenerationRunSkipsMalformedPayload(t *testing.T) {
	runner := &stubRunner{}
	p := NewProcessor(runner)

	err := p.HandleGenerationRun(context.Background(), asynq.NewTask(TypeGenerationRun, []byte("not json")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("malformed payload should skip retry, got %v", err)
	}
	if runner.calls != 0 {
		t.Fatal("runner must not run on malformed payload")
	}
}
