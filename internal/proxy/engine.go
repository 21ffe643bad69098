// Package proxy relays provider-prefixed requests to upstream LLM APIs while
// accounting token usage from the response bytes.
//
// The relay is the primary job: response bytes reach the client exactly as
// received, and nothing in the accounting path (JSON parsing, usage
// extraction, cost lookup, notifications) may fail it.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/tokenlens/gateway/internal/config"
	"github.com/tokenlens/gateway/internal/pricing"
	"github.com/tokenlens/gateway/internal/signer"
	"github.com/tokenlens/gateway/internal/store"
	"github.com/tokenlens/gateway/internal/tokenizer"
	"github.com/tokenlens/gateway/internal/usage"
	"github.com/tokenlens/gateway/internal/utils"
)

// Broadcast event types for entry lifecycle notifications.
const (
	eventNew    = "new"
	eventUpdate = "update"
)

// Notifier receives entry lifecycle events. Implementations must not block.
type Notifier interface {
	Broadcast(eventType string, entry json.RawMessage)
}

// FinalizeSink is notified exactly once per terminal entry.
type FinalizeSink interface {
	OnFinalized(store.View)
}

// Options wires an Engine's collaborators.
type Options struct {
	Targets   Targets
	Pricing   *pricing.Source
	Entries   *store.Store
	Notifier  Notifier
	Sink      FinalizeSink
	Limiter   *rate.Limiter        // optional
	Signer    *signer.SigV4        // optional, for sigv4 targets
	Estimator *tokenizer.Estimator // optional fallback token estimate
	Client    *http.Client         // nil uses NewUpstreamClient
}

// Engine is the per-request proxy state machine.
type Engine struct {
	targets   *targetTable
	pricing   *pricing.Source
	entries   *store.Store
	notifier  Notifier
	sink      FinalizeSink
	limiter   *rate.Limiter
	signer    *signer.SigV4
	estimator *tokenizer.Estimator
	client    *http.Client
}

// New creates an engine.
func New(opts Options) *Engine {
	client := opts.Client
	if client == nil {
		client = NewUpstreamClient()
	}
	return &Engine{
		targets:   newTargetTable(opts.Targets),
		pricing:   opts.Pricing,
		entries:   opts.Entries,
		notifier:  opts.Notifier,
		sink:      opts.Sink,
		limiter:   opts.Limiter,
		signer:    opts.Signer,
		estimator: opts.Estimator,
		client:    client,
	}
}

// NewUpstreamClient builds the upstream HTTP client. No overall timeout:
// streams may run for as long as the provider keeps sending.
func NewUpstreamClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DefaultDialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       config.DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   config.DefaultTLSHandshakeTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport}
}

// UpdateTargets hot-swaps the provider mapping as a whole unit.
func (e *Engine) UpdateTargets(t Targets) {
	e.targets.store(t)
	log.Info().Int("providers", len(t)).Msg("target map updated")
}

// Targets returns the current provider mapping snapshot.
func (e *Engine) Targets() Targets {
	return e.targets.snapshot()
}

// ServeHTTP handles one intercepted request end to end.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if e.limiter != nil && !e.limiter.Allow() {
		writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	providerName, rest := SplitProviderPath(r.URL.Path)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	_ = r.Body.Close()

	entry := e.newEntry(providerName, rest, r, body)
	e.entries.Add(entry)
	e.notify(eventNew, entry)

	target, ok := e.targets.resolve(providerName)
	if !ok {
		// No upstream round-trip happened: the entry stays pending and is
		// never persisted.
		log.Warn().Str("provider", providerName).Str("path", rest).Msg("unknown provider")
		writeJSONError(w, http.StatusBadGateway, "Unknown provider: "+providerName)
		return
	}

	upstream := upstreamURL(target.BaseURL, rest)
	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstream, bytes.NewReader(body))
	if err != nil {
		e.failBeforeHeaders(w, entry, "Proxy error: "+err.Error())
		return
	}
	copyRequestHeaders(req.Header, r.Header)

	if target.SigV4 {
		if e.signer == nil {
			e.failBeforeHeaders(w, entry, "Proxy error: sigv4 requested but no AWS credentials configured")
			return
		}
		if err := e.signer.Sign(r.Context(), req, body, target.Service); err != nil {
			e.failBeforeHeaders(w, entry, "Proxy error: "+err.Error())
			return
		}
	}

	log.Debug().
		Str("id", entry.ID()).
		Str("provider", providerName).
		Str("upstream", upstream).
		Int("request_bytes", len(body)).
		Str("auth", utils.MaskKey(clientAuth(r.Header))).
		Msg("forwarding request")

	resp, err := e.client.Do(req)
	if err != nil {
		e.failBeforeHeaders(w, entry, "Proxy error: "+err.Error())
		return
	}
	defer func() { _ = resp.Body.Close() }()

	// Mirror status and headers immediately; the client sees exactly what
	// upstream sent before any body byte arrives.
	mirrorHeaders(w, resp.Header)
	w.WriteHeader(resp.StatusCode)

	e.relay(r.Context(), w, resp, entry, target, body)
}

// newEntry buffers and decodes the request side into a pending entry.
func (e *Engine) newEntry(provider, rest string, r *http.Request, body []byte) *store.Entry {
	var reqBody any
	var model string
	if len(body) > 0 {
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			reqBody = v
			model = gjson.GetBytes(body, "model").Str
		} else {
			reqBody = string(body)
		}
	}
	return store.NewEntry(uuid.NewString(), provider, r.Method, rest, r.Header, reqBody, len(body), model)
}

// relay copies the upstream response to the client while accumulating a copy,
// then finalizes the entry from the accumulated bytes.
func (e *Engine) relay(ctx context.Context, w http.ResponseWriter, resp *http.Response, entry *store.Entry, target Target, reqBody []byte) {
	streaming := isEventStream(resp.Header.Get("Content-Type"))
	flusher, canFlush := w.(http.Flusher)

	var acc bytes.Buffer
	buf := make([]byte, config.DefaultBufferSize)
	var relayErr error
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			// Both side effects complete before the next upstream read.
			acc.Write(buf[:n])
			if _, werr := w.Write(buf[:n]); werr != nil {
				relayErr = werr
				break
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				relayErr = rerr
			}
			break
		}
	}

	if relayErr != nil {
		// Headers are already sent; the stream just ends. The entry still
		// records what was relayed so far.
		msg := relayErr.Error()
		if ctx.Err() != nil {
			msg = "client disconnected: " + msg
		}
		log.Debug().Err(relayErr).Str("id", entry.ID()).Msg("relay aborted")
		e.finalize(entry, store.Outcome{
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
			Body:       acc.String(),
			Size:       acc.Len(),
			Err:        msg,
		})
		return
	}

	if streaming {
		e.finalizeStream(entry, resp, target, acc.Bytes(), reqBody)
	} else {
		e.finalizeBuffered(entry, resp, target, acc.Bytes(), reqBody)
	}
}

// finalizeStream parses the accumulated SSE text, accumulates usage across
// the event sequence, and completes the entry.
func (e *Engine) finalizeStream(entry *store.Entry, resp *http.Response, target Target, body, reqBody []byte) {
	events := usage.ParseEvents(body)
	rec := usage.AccumulateStream(events, target.Family)
	cost, est := e.price(entry, &rec, reqBody)
	e.finalize(entry, store.Outcome{
		StatusCode:      resp.StatusCode,
		Headers:         resp.Header,
		Body:            events,
		Size:            len(body),
		Usage:           &rec,
		Cost:            cost,
		EstimatedTokens: est,
	})
}

// finalizeBuffered decodes the accumulated body as JSON when possible and
// completes the entry. Undecodable bodies are kept as raw text with no usage.
func (e *Engine) finalizeBuffered(entry *store.Entry, resp *http.Response, target Target, body, reqBody []byte) {
	outcome := store.Outcome{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Size:       len(body),
	}
	var parsed any
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil {
		outcome.Body = parsed
		if rec, found := usage.Extract(body, target.Family); found {
			outcome.Usage = &rec
			outcome.Cost, outcome.EstimatedTokens = e.price(entry, &rec, reqBody)
		} else {
			_, outcome.EstimatedTokens = e.price(entry, nil, reqBody)
		}
	} else {
		outcome.Body = string(body)
		_, outcome.EstimatedTokens = e.price(entry, nil, reqBody)
	}
	e.finalize(entry, outcome)
}

// price computes cost for a usage record, falling back to the request's
// declared model id when the response never named one, and produces the
// advisory token estimate when no usage was reported at all.
func (e *Engine) price(entry *store.Entry, rec *usage.Record, reqBody []byte) (cost float64, estimated int) {
	if rec != nil && rec.HasTokens() {
		model := rec.Model
		if model == "" || model == usage.ModelUnknown {
			model = entry.RequestModel()
		}
		return e.pricing.Table().Cost(model, *rec), 0
	}
	if e.estimator != nil && len(reqBody) > 0 {
		estimated = e.estimator.Count(string(reqBody))
	}
	return 0, estimated
}

// finalize applies the terminal transition and fires both notification
// side-channels exactly once.
func (e *Engine) finalize(entry *store.Entry, o store.Outcome) {
	if !entry.Finalize(o) {
		return
	}
	e.notify(eventUpdate, entry)
	if e.sink != nil {
		e.sink.OnFinalized(entry.Snapshot())
	}
}

// failBeforeHeaders finalizes an upstream failure and answers 502; response
// headers have not been written yet.
func (e *Engine) failBeforeHeaders(w http.ResponseWriter, entry *store.Entry, msg string) {
	log.Warn().Str("id", entry.ID()).Str("error", msg).Msg("upstream request failed")
	e.finalize(entry, store.Outcome{
		StatusCode: http.StatusBadGateway,
		Err:        msg,
	})
	writeJSONError(w, http.StatusBadGateway, msg)
}

func (e *Engine) notify(eventType string, entry *store.Entry) {
	if e.notifier == nil {
		return
	}
	summary, err := entry.Snapshot().Summary()
	if err != nil {
		log.Debug().Err(err).Str("id", entry.ID()).Msg("summary marshal failed")
		return
	}
	e.notifier.Broadcast(eventType, summary)
}

// clientAuth returns whichever auth credential the client sent, for masked
// logging only.
func clientAuth(h http.Header) string {
	if v := h.Get("x-api-key"); v != "" {
		return v
	}
	return h.Get("Authorization")
}

// isEventStream reports whether a content type indicates an SSE or generic
// streaming response.
func isEventStream(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "stream")
}

// hopByHop headers are stripped from the forwarded request; the transport
// recomputes them. Accept-Encoding is also stripped so the transport
// negotiates encoding itself and hands back identity bytes that the usage
// parser can read.
var hopByHop = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"content-length":      {},
	"host":                {},
	"accept-encoding":     {},
}

func copyRequestHeaders(dst, src http.Header) {
	for k, vals := range src {
		if _, drop := hopByHop[strings.ToLower(k)]; drop {
			continue
		}
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}

// mirrorHeaders copies upstream response headers to the client, minus
// hop-by-hop headers which describe the upstream connection, not ours.
func mirrorHeaders(w http.ResponseWriter, src http.Header) {
	for k, vals := range src {
		switch strings.ToLower(k) {
		case "connection", "keep-alive", "transfer-encoding", "upgrade":
			continue
		}
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
