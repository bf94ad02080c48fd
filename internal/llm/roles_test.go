package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/a-marczewski/ragline/internal/pipecache"
)

func TestEmbedderCachesRepeatedText(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(EmbeddingResponse{
			Data: []EmbeddingData{{Embedding: []float32{1, 2}}},
		})
	}))
	defer srv.Close()

	cache := pipecache.New[[]float32](16, time.Minute)
	e := NewEmbedder(NewClient(srv.URL, "", "m", "emb"), cache, nil)

	for i := 0; i < 3; i++ {
		if _, err := e.Embed(context.Background(), "What is Raft?"); err != nil {
			t.Fatalf("Embed: %v", err)
		}
	}
	// Key normalization folds case and whitespace.
	if _, err := e.Embed(context.Background(), "  what is raft?  "); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("API calls = %d, want 1", got)
	}
}

func TestRerankerParsesScore(t *testing.T) {
	cases := []struct {
		reply string
		want  float64
		ok    bool
	}{
		{"7", 7, true},
		{"Score: 9", 9, true},
		{"3.5", 3.5, true},
		{"11", 0, false},
		{"no idea", 0, false},
	}

	for _, tc := range cases {
		reply := tc.reply
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(ChatResponse{
				Choices: []Choice{{Message: Message{Role: "assistant", Content: reply}}},
			})
		}))

		rr := NewReranker(NewClient(srv.URL, "", "m", "e"), "", nil)
		got, err := rr.Score(context.Background(), "q", "passage")
		srv.Close()

		if tc.ok {
			if err != nil {
				t.Errorf("reply %q: unexpected error %v", tc.reply, err)
				continue
			}
			if got != tc.want {
				t.Errorf("reply %q: score = %g, want %g", tc.reply, got, tc.want)
			}
		} else if err == nil {
			t.Errorf("reply %q: expected error, got score %g", tc.reply, got)
		}
	}
}

func TestRerankerUsesConfiguredModel(t *testing.T) {
	var gotModel atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotModel.Store(req.Model)
		json.NewEncoder(w).Encode(ChatResponse{
			Choices: []Choice{{Message: Message{Role: "assistant", Content: "6"}}},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", "chat-model", "e")

	rr := NewReranker(client, "scoring-model", nil)
	if _, err := rr.Score(context.Background(), "q", "passage"); err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got := gotModel.Load(); got != "scoring-model" {
		t.Errorf("model = %v, want scoring-model", got)
	}

	// Without an override the client's chat model is used.
	rr = NewReranker(client, "", nil)
	if _, err := rr.Score(context.Background(), "q", "passage"); err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got := gotModel.Load(); got != "chat-model" {
		t.Errorf("model = %v, want chat-model", got)
	}
}

func TestVerifierScaleAndName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ChatResponse{
			Choices: []Choice{{Message: Message{Role: "assistant", Content: "85"}}},
		})
	}))
	defer srv.Close()

	v := NewGroundednessVerifier(NewClient(srv.URL, "", "m", "e"), nil)
	if v.Name() != "groundedness" {
		t.Errorf("name = %q", v.Name())
	}

	score, err := v.Verify(context.Background(), "answer", []string{"ctx a", "ctx b"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if score != 0.85 {
		t.Errorf("score = %g, want 0.85", score)
	}
}
