// Package evallog persists one append-only record per completed request for
// offline analysis. Writes are asynchronous so a slow disk never blocks the
// request path.
package evallog

import (
	"database/sql"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	recordBufferSize = 100
)

// StageEntry is one stage's trace line inside a record.
type StageEntry struct {
	Stage      string `json:"stage"`
	Outcome    string `json:"outcome"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	CacheHit   bool   `json:"cache_hit,omitempty"`
}

// Record captures one completed pipeline run: the question and answer text,
// the full stage trace, and the confidence verdict including its issues.
type Record struct {
	RunID          string
	Question       string
	QuestionHash   string
	Answer         string
	Strategy       string
	Outcome        string
	Decision       string
	Confidence     float64
	Issues         []string
	CandidateCount int
	Regenerated    bool
	Degradations   []string
	Stages         []StageEntry
	DurationMs     int64
	CreatedAt      time.Time
}

// Writer handles async writing of evaluation records to the database.
type Writer struct {
	db        *sql.DB
	logger    *zap.Logger
	records   chan Record
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewWriter creates a new async evaluation log writer.
// Pass nil for db to disable logging.
func NewWriter(db *sql.DB, logger *zap.Logger) *Writer {
	if db == nil {
		return nil
	}

	w := &Writer{
		db:      db,
		logger:  logger,
		records: make(chan Record, recordBufferSize),
		done:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.writeLoop()

	return w
}

// Write queues a record for async writing. Non-blocking; drops if buffer full.
func (w *Writer) Write(record Record) {
	if w == nil || w.closed.Load() {
		return
	}

	select {
	case w.records <- record:
		// Successfully queued
	default:
		// Buffer full, drop the record
		if w.logger != nil {
			w.logger.Debug("Evaluation log buffer full, dropping record",
				zap.String("run_id", record.RunID),
			)
		}
	}
}

// Close gracefully shuts down the writer, flushing pending writes.
func (w *Writer) Close() {
	if w == nil {
		return
	}

	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.done)
	})
	w.wg.Wait()
}

// writeLoop runs in a background goroutine, writing records to the database.
func (w *Writer) writeLoop() {
	defer w.wg.Done()

	for {
		select {
		case record := <-w.records:
			w.writeRecord(record)
		case <-w.done:
			// Drain any remaining records
			for {
				select {
				case record := <-w.records:
					w.writeRecord(record)
				default:
					return
				}
			}
		}
	}
}

// writeRecord performs the actual database insert.
func (w *Writer) writeRecord(record Record) {
	stagesJSON, err := json.Marshal(record.Stages)
	if err != nil {
		if w.logger != nil {
			w.logger.Error("Failed to serialize stage trace", zap.Error(err))
		}
		stagesJSON = []byte("[]")
	}

	degradationsJSON, err := json.Marshal(record.Degradations)
	if err != nil {
		degradationsJSON = []byte("[]")
	}

	issuesJSON, err := json.Marshal(record.Issues)
	if err != nil {
		issuesJSON = []byte("[]")
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	_, err = w.db.Exec(`
		INSERT INTO eval_log (
			run_id, created_at, question, question_hash, answer, strategy, outcome,
			decision, confidence, issues, candidate_count, regenerated, degradations,
			stages, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.RunID,
		record.CreatedAt,
		record.Question,
		record.QuestionHash,
		record.Answer,
		record.Strategy,
		record.Outcome,
		record.Decision,
		record.Confidence,
		string(issuesJSON),
		record.CandidateCount,
		record.Regenerated,
		string(degradationsJSON),
		string(stagesJSON),
		record.DurationMs,
	)

	if err != nil {
		if w.logger != nil {
			w.logger.Error("Failed to write evaluation record",
				zap.Error(err),
				zap.String("run_id", record.RunID),
			)
		}
	}
}
