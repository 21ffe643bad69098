package persist

import (
	"database/sql"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tokenlens/gateway/internal/store"
)

const (
	queueSize   = 1024
	workerCount = 2
)

// Record is the flattened form of one finalized entry.
type Record struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Provider        string    `json:"provider"`
	Model           string    `json:"model,omitempty"`
	Method          string    `json:"method"`
	Path            string    `json:"path"`
	State           string    `json:"state"`
	StatusCode      int       `json:"status_code"`
	DurationMs      int64     `json:"duration_ms"`
	RequestBytes    int       `json:"request_bytes"`
	ResponseBytes   int       `json:"response_bytes"`
	InputTokens     int       `json:"input_tokens"`
	OutputTokens    int       `json:"output_tokens"`
	CacheReadTokens int       `json:"cache_read_tokens"`
	CacheWriteToks  int       `json:"cache_write_tokens"`
	Cost            float64   `json:"cost"`
	Error           string    `json:"error,omitempty"`
}

// recordFromView flattens an entry view.
func recordFromView(v store.View) Record {
	rec := Record{
		ID:            v.ID,
		Timestamp:     v.Timestamp,
		Provider:      v.Provider,
		Model:         v.Model,
		Method:        v.Method,
		Path:          v.Path,
		State:         string(v.State),
		StatusCode:    v.StatusCode,
		DurationMs:    v.DurationMs,
		RequestBytes:  v.RequestSize,
		ResponseBytes: v.ResponseSize,
		Cost:          v.CostUSD,
		Error:         v.Error,
	}
	if v.Usage != nil {
		rec.InputTokens = v.Usage.InputTokens
		rec.OutputTokens = v.Usage.OutputTokens
		rec.CacheReadTokens = v.Usage.CacheReadTokens
		rec.CacheWriteToks = v.Usage.CacheCreationTokens
	}
	return rec
}

// Sink persists finalized entries through a bounded queue and a small worker
// pool. When the queue is full the record is dropped and counted; durability
// of every last record is worth less than never stalling the relay.
type Sink struct {
	db      *sql.DB
	queue   chan Record
	dropped atomic.Int64

	logPath string
	logMu   sync.Mutex

	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closed  bool
}

// Open creates the sink. dbPath is required; logPath optionally mirrors every
// record as JSONL for tail-based tooling.
func Open(dbPath, logPath string) (*Sink, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	s := &Sink{
		db:      db,
		queue:   make(chan Record, queueSize),
		logPath: logPath,
	}
	for i := 0; i < workerCount; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s, nil
}

// OnFinalized enqueues one finalized entry. Non-blocking, and a no-op after
// Close; a late caller is counted as dropped, never a panic.
func (s *Sink) OnFinalized(v store.View) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- recordFromView(v):
	default:
		if n := s.dropped.Add(1); n%100 == 1 {
			log.Warn().Int64("dropped", n).Msg("persist queue full, dropping records")
		}
	}
}

// Dropped returns how many records were lost to backpressure.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Close drains the queue and closes the database. Idempotent; the closed flag
// is flipped under the write lock so no sender can race the channel close.
func (s *Sink) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()
	close(s.queue)
	s.wg.Wait()
	return s.db.Close()
}

func (s *Sink) worker() {
	defer s.wg.Done()
	for rec := range s.queue {
		s.persist(rec)
	}
}

func (s *Sink) persist(rec Record) {
	if err := s.writeRow(rec); err != nil {
		log.Warn().Err(err).Str("id", rec.ID).Msg("persist request_log failed")
	}
	if err := s.upsertDaily(rec); err != nil {
		log.Warn().Err(err).Str("id", rec.ID).Msg("persist daily_usage failed")
	}
	s.appendJSONL(rec)
}

func (s *Sink) writeRow(rec Record) error {
	const insertSQL = `
		INSERT OR IGNORE INTO request_log (
			id, timestamp, provider, model, method, path, state, status_code,
			duration_ms, request_bytes, response_bytes,
			input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
			cost, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(insertSQL,
		rec.ID, rec.Timestamp.UTC(), rec.Provider, rec.Model, rec.Method, rec.Path,
		rec.State, rec.StatusCode, rec.DurationMs, rec.RequestBytes, rec.ResponseBytes,
		rec.InputTokens, rec.OutputTokens, rec.CacheReadTokens, rec.CacheWriteToks,
		rec.Cost, rec.Error)
	return err
}

func (s *Sink) upsertDaily(rec Record) error {
	day := rec.Timestamp.UTC().Format("2006-01-02")
	isErr := 0
	if rec.State == string(store.StateError) {
		isErr = 1
	}
	const upsertSQL = `
		INSERT INTO daily_usage (
			day, provider, model, requests, input_tokens, output_tokens,
			cache_read_tokens, cache_write_tokens, cost, errors
		) VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(day, provider, model) DO UPDATE SET
			requests = requests + 1,
			input_tokens = input_tokens + excluded.input_tokens,
			output_tokens = output_tokens + excluded.output_tokens,
			cache_read_tokens = cache_read_tokens + excluded.cache_read_tokens,
			cache_write_tokens = cache_write_tokens + excluded.cache_write_tokens,
			cost = cost + excluded.cost,
			errors = errors + excluded.errors`
	_, err := s.db.Exec(upsertSQL,
		day, rec.Provider, rec.Model,
		rec.InputTokens, rec.OutputTokens, rec.CacheReadTokens, rec.CacheWriteToks,
		rec.Cost, isErr)
	return err
}

// appendJSONL mirrors the record to the request log file, one JSON object per
// line.
func (s *Sink) appendJSONL(rec Record) {
	if s.logPath == "" {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	s.logMu.Lock()
	defer s.logMu.Unlock()
	f, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		log.Debug().Err(err).Str("path", s.logPath).Msg("request log open failed")
		return
	}
	defer func() { _ = f.Close() }()
	_, _ = f.Write(append(data, '\n'))
}
