// Package store holds the in-memory record of recent proxied requests.
package store

import (
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/sjson"

	"github.com/tokenlens/gateway/internal/usage"
	"github.com/tokenlens/gateway/internal/utils"
)

// State is the lifecycle state of an entry.
type State string

const (
	StatePending State = "pending"
	StateDone    State = "done"
	StateError   State = "error"
)

// Entry is the per-request record spanning its full lifecycle. Request-side
// fields are immutable once set; response-side fields are written exactly once
// by Finalize. All reads go through Snapshot so concurrent observers never see
// a half-written terminal transition.
type Entry struct {
	mu sync.Mutex

	id             string
	provider       string
	method         string
	path           string
	startedAt      time.Time
	requestHeaders http.Header
	requestBody    any
	requestSize    int
	requestModel   string

	state           State
	statusCode      int
	responseHeaders http.Header
	responseBody    any
	responseSize    int
	duration        time.Duration
	usage           *usage.Record
	cost            float64
	estimatedTokens int
	errMsg          string
}

// NewEntry creates a pending entry for a freshly buffered request.
// requestBody is the decoded JSON value, or the raw text when undecodable.
func NewEntry(id, provider, method, path string, headers http.Header, body any, size int, model string) *Entry {
	return &Entry{
		id:             id,
		provider:       provider,
		method:         method,
		path:           path,
		startedAt:      time.Now(),
		requestHeaders: headers.Clone(),
		requestBody:    body,
		requestSize:    size,
		requestModel:   model,
		state:          StatePending,
	}
}

// ID returns the entry's unique id.
func (e *Entry) ID() string { return e.id }

// Provider returns the provider name extracted from the request path.
func (e *Entry) Provider() string { return e.provider }

// RequestModel returns the model id declared in the request body, if any.
func (e *Entry) RequestModel() string { return e.requestModel }

// StartedAt returns the arrival timestamp.
func (e *Entry) StartedAt() time.Time { return e.startedAt }

// Outcome carries everything a terminal transition sets. Status, duration,
// usage, cost, and state become visible together.
type Outcome struct {
	StatusCode      int
	Headers         http.Header
	Body            any
	Size            int
	Usage           *usage.Record
	Cost            float64
	EstimatedTokens int
	Err             string
}

// Finalize applies the terminal transition exactly once. A second call is a
// no-op returning false; done and error are both terminal.
func (e *Entry) Finalize(o Outcome) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePending {
		return false
	}
	e.statusCode = o.StatusCode
	if o.Headers != nil {
		e.responseHeaders = o.Headers.Clone()
	}
	e.responseBody = o.Body
	e.responseSize = o.Size
	e.duration = time.Since(e.startedAt)
	e.usage = o.Usage
	e.cost = o.Cost
	e.estimatedTokens = o.EstimatedTokens
	if o.Err != "" {
		e.errMsg = o.Err
		e.state = StateError
	} else {
		e.state = StateDone
	}
	return true
}

// View is an immutable copy of an entry, safe to serialize and share.
type View struct {
	ID              string        `json:"id"`
	Provider        string        `json:"provider"`
	Method          string        `json:"method"`
	Path            string        `json:"path"`
	Timestamp       time.Time     `json:"timestamp"`
	State           State         `json:"state"`
	StatusCode      int           `json:"status_code,omitempty"`
	DurationMs      int64         `json:"duration_ms"`
	Model           string        `json:"model,omitempty"`
	RequestHeaders  http.Header   `json:"request_headers,omitempty"`
	RequestBody     any           `json:"request_body,omitempty"`
	RequestSize     int           `json:"request_size"`
	ResponseHeaders http.Header   `json:"response_headers,omitempty"`
	ResponseBody    any           `json:"response_body,omitempty"`
	ResponseSize    int           `json:"response_size"`
	Usage           *usage.Record `json:"usage,omitempty"`
	CostUSD         float64       `json:"cost_usd"`
	EstimatedTokens int           `json:"estimated_tokens,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// Snapshot copies the entry under its lock.
func (e *Entry) Snapshot() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	model := e.requestModel
	if e.usage != nil && e.usage.Model != "" && e.usage.Model != usage.ModelUnknown {
		model = e.usage.Model
	}
	var u *usage.Record
	if e.usage != nil {
		cp := *e.usage
		u = &cp
	}
	return View{
		ID:              e.id,
		Provider:        e.provider,
		Method:          e.method,
		Path:            e.path,
		Timestamp:       e.startedAt,
		State:           e.state,
		StatusCode:      e.statusCode,
		DurationMs:      e.duration.Milliseconds(),
		Model:           model,
		RequestHeaders:  e.requestHeaders,
		RequestBody:     e.requestBody,
		RequestSize:     e.requestSize,
		ResponseHeaders: e.responseHeaders,
		ResponseBody:    e.responseBody,
		ResponseSize:    e.responseSize,
		Usage:           u,
		CostUSD:         e.cost,
		EstimatedTokens: e.estimatedTokens,
		Error:           e.errMsg,
	}
}

// summaryDrop lists the heavy fields a broadcast summary never carries.
var summaryDrop = []string{"request_headers", "request_body", "response_headers", "response_body"}

// Summary serializes the view without bodies or header maps, for broadcast
// and list endpoints.
func (v View) Summary() ([]byte, error) {
	full, err := utils.MarshalNoEscape(v)
	if err != nil {
		return nil, err
	}
	for _, field := range summaryDrop {
		full, err = sjson.DeleteBytes(full, field)
		if err != nil {
			return nil, err
		}
	}
	return full, nil
}
