package agents

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"adreel/internal/volc"
)

func TestQualityProbeScoresOverChat(t *testing.T) {
	var gotPath, gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotPrompt = string(body)
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"score\": 73}"}}]}`))
	}))
	defer srv.Close()

	probe := NewQualityProbe(&volc.ArkClient{BaseURL: srv.URL, HTTPClient: srv.Client()}, "doubao-seed-1-6")
	score, err := probe.Score(context.Background(), "story", []byte(`{"narrative":"x"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 73 {
		t.Fatalf("score = %v, want 73", score)
	}
	if gotPath != "/api/v3/chat/completions" {
		t.Fatalf("unexpected endpoint %s", gotPath)
	}
	if !strings.Contains(gotPrompt, "Stage: story") {
		t.Fatal("stage name missing from the assessment prompt")
	}
}

func TestQualityProbeMockMode(t *testing.T) {
	probe := NewQualityProbe(&volc.ArkClient{Mock: true}, "doubao-seed-1-6")
	score, err := probe.Score(context.Background(), "scenes", []byte(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 88 {
		t.Fatalf("score = %v, want the canned 88", score)
	}
}
