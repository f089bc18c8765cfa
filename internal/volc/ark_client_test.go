package volc

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"adreel/internal/engine"
)

func TestClassifyStatus(t *testing.T) {
	if err := classifyStatus(200, nil); err != nil {
		t.Fatalf("2xx must be nil, got %v", err)
	}

	err := classifyStatus(http.StatusTooManyRequests, []byte("slow down"))
	if !engine.IsRateLimited(err) {
		t.Fatalf("429 must classify as rate limited, got %v", err)
	}
	if engine.IsFatal(err) {
		t.Fatal("rate limited must stay retryable")
	}

	err = classifyStatus(503, nil)
	var te *engine.TransientError
	if !errors.As(err, &te) {
		t.Fatalf("5xx must classify as transient, got %v", err)
	}

	err = classifyStatus(400, []byte("bad prompt"))
	if !engine.IsFatal(err) {
		t.Fatalf("4xx must classify as fatal, got %v", err)
	}
}

func TestMockImageGeneration(t *testing.T) {
	c := &ArkClient{Mock: true}
	urls, err := c.GenerateImages(context.Background(), ImageGenParams{Prompt: "a shoe", MaxImages: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("expected 2 mock images, got %d", len(urls))
	}
	for _, u := range urls {
		if !strings.HasPrefix(u, "data:image/") {
			t.Fatalf("mock image must be a data url, got %q", u)
		}
	}
}

func TestMockVideoTask(t *testing.T) {
	c := &ArkClient{Mock: true}
	id, err := c.CreateVideoTask(context.Background(), VideoTaskParams{Prompt: "a shot"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	status, url, err := c.GetVideoTask(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != "succeeded" || url == "" {
		t.Fatalf("mock task should complete immediately: %s %s", status, url)
	}
}
