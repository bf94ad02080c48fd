package evallog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/a-marczewski/ragline/internal/storage"
)

func TestWriterPersistsRecords(t *testing.T) {
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "eval.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	w := NewWriter(db.GetConnection(), nil)
	w.Write(Record{
		RunID:          "run-1",
		Question:       "what is raft?",
		QuestionHash:   "abc123",
		Answer:         "Raft is a consensus algorithm [1].",
		Strategy:       "targeted-lookup",
		Outcome:        "sent",
		Decision:       "send",
		Confidence:     0.91,
		Issues:         []string{"hallucination_risk"},
		CandidateCount: 4,
		Degradations:   []string{"reranker_unavailable"},
		Stages: []StageEntry{
			{Stage: "retrieval", Outcome: "success", DurationMs: 120},
			{Stage: "generation", Outcome: "success", DurationMs: 900},
		},
		DurationMs: 1100,
		CreatedAt:  time.Now(),
	})
	w.Close() // flushes pending writes

	var count int
	var question, answer, outcome, issues, stages string
	row := db.GetConnection().QueryRow(
		"SELECT COUNT(*), MAX(question), MAX(answer), MAX(outcome), MAX(issues), MAX(stages) FROM eval_log")
	if err := row.Scan(&count, &question, &answer, &outcome, &issues, &stages); err != nil {
		t.Fatalf("query eval_log: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	if question != "what is raft?" {
		t.Errorf("question = %q", question)
	}
	if answer != "Raft is a consensus algorithm [1]." {
		t.Errorf("answer = %q", answer)
	}
	if outcome != "sent" {
		t.Errorf("outcome = %q", outcome)
	}
	if issues != `["hallucination_risk"]` {
		t.Errorf("issues = %q", issues)
	}
	if stages == "" || stages == "[]" {
		t.Errorf("stage trace not persisted: %q", stages)
	}
}

func TestNilWriterIsSafe(t *testing.T) {
	var w *Writer
	w.Write(Record{RunID: "ignored"})
	w.Close()
}
