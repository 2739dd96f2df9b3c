// internal/adapters/webhook/gateway.go
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"pmsync/internal/adapters/observability"
	"pmsync/internal/domain"
)

const (
	// maxTimestampAge bounds the freshness window for signed requests, in
	// seconds. Older timestamps are replays; future ones are clock skew.
	maxTimestampAge = 300

	// DefaultSignatureHeader and DefaultTimestampHeader are the vendor's
	// header names unless configuration overrides them.
	DefaultSignatureHeader = "X-PMS-Signature"
	DefaultTimestampHeader = "X-PMS-Timestamp"

	maxBodyBytes = 1 << 20
)

var eventTypes = map[string]struct{}{
	domain.EventReservationCreated:   {},
	domain.EventReservationUpdated:   {},
	domain.EventReservationCancelled: {},
	domain.EventGuestCheckedIn:       {},
	domain.EventGuestCheckedOut:      {},
}

// Config wires one gateway to one tenant.
type Config struct {
	Secret          string
	PropertyID      string
	SignatureHeader string
	TimestampHeader string
	Idempotency     domain.IdempotencyStore
	Now             func() time.Time
}

// Options carries the dispatch hooks for Handle.
type Options struct {
	OnEvent func(ctx context.Context, ev domain.WebhookEvent) error
	OnError func(err error)
}

// Result is the structured outcome of one delivery, convertible to an HTTP
// response. Handle never returns an error; every path lands here.
type Result struct {
	StatusCode       int
	Message          string
	Event            string
	PropertyID       string
	IdempotencyKey   string
	ProcessingTimeMs int64
	Duplicate        bool
	ErrCode          string
	ErrDetail        string
}

type Gateway struct {
	secret    string
	property  string
	sigHeader string
	tsHeader  string
	idem      domain.IdempotencyStore
	now       func() time.Time
}

func New(cfg Config) (*Gateway, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	if cfg.PropertyID == "" {
		return nil, fmt.Errorf("property id is required")
	}
	if cfg.Idempotency == nil {
		return nil, fmt.Errorf("idempotency store is required")
	}
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = DefaultSignatureHeader
	}
	if cfg.TimestampHeader == "" {
		cfg.TimestampHeader = DefaultTimestampHeader
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Gateway{
		secret:    cfg.Secret,
		property:  cfg.PropertyID,
		sigHeader: cfg.SignatureHeader,
		tsHeader:  cfg.TimestampHeader,
		idem:      cfg.Idempotency,
		now:       cfg.Now,
	}, nil
}

// ---- Signature verification ----

// SignatureCheck reports the outcome of signature verification with a reason
// specific enough to separate replay/clock problems from credential problems.
type SignatureCheck struct {
	Valid      bool
	AgeSeconds int64
	Reason     string
}

// Sign computes the hex HMAC-SHA256 over timestamp ∥ payload. Exported for
// callers that need to produce signatures (tests, fixtures, outbound hooks).
func Sign(secret, timestampStr string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestampStr))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes HMAC-SHA256(secret, timestamp ∥ payload) and
// compares in constant time, after checking the timestamp's freshness window.
func VerifySignature(payload []byte, signature, timestampStr, secret string, now time.Time) SignatureCheck {
	switch {
	case len(payload) == 0:
		return SignatureCheck{Reason: "empty payload"}
	case signature == "":
		return SignatureCheck{Reason: "missing signature header"}
	case timestampStr == "":
		return SignatureCheck{Reason: "missing timestamp header"}
	case secret == "":
		return SignatureCheck{Reason: "no signing secret configured"}
	}

	ts, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return SignatureCheck{Reason: "timestamp is not a unix epoch number"}
	}

	age := now.Unix() - ts
	if age > maxTimestampAge {
		return SignatureCheck{AgeSeconds: age, Reason: fmt.Sprintf("timestamp too old (%ds)", age)}
	}
	if age < 0 {
		return SignatureCheck{AgeSeconds: age, Reason: "timestamp is in the future"}
	}

	expected := Sign(secret, timestampStr, payload)
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return SignatureCheck{AgeSeconds: age, Reason: "signature mismatch"}
	}
	want, _ := hex.DecodeString(expected)
	if !hmac.Equal(want, provided) {
		return SignatureCheck{AgeSeconds: age, Reason: "signature mismatch"}
	}
	return SignatureCheck{Valid: true, AgeSeconds: age}
}

// ---- Payload parsing ----

// ParseEvent decodes and validates the webhook envelope. Each missing field
// and an unrecognized event type produce distinct errors.
func ParseEvent(raw []byte) (domain.WebhookEvent, error) {
	var envelope struct {
		Event      string          `json:"event"`
		Timestamp  string          `json:"timestamp"`
		PropertyID string          `json:"property_id"`
		Data       json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("malformed JSON payload: %w", err)
	}
	if envelope.Event == "" {
		return domain.WebhookEvent{}, fmt.Errorf("missing event field")
	}
	if _, ok := eventTypes[envelope.Event]; !ok {
		return domain.WebhookEvent{}, fmt.Errorf("unrecognized event type %q", envelope.Event)
	}
	if envelope.Timestamp == "" {
		return domain.WebhookEvent{}, fmt.Errorf("missing timestamp field")
	}
	if envelope.PropertyID == "" {
		return domain.WebhookEvent{}, fmt.Errorf("missing property_id field")
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return domain.WebhookEvent{}, fmt.Errorf("missing data field")
	}

	ev := domain.WebhookEvent{
		Event:      envelope.Event,
		Timestamp:  envelope.Timestamp,
		PropertyID: envelope.PropertyID,
	}
	if err := json.Unmarshal(envelope.Data, &ev.Data); err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("malformed data field: %w", err)
	}
	return ev, nil
}

// IdempotencyKey is the deterministic SHA-256 over
// property_id ∥ event_type ∥ raw payload, so identical redeliveries collide.
func IdempotencyKey(propertyID, eventType string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(propertyID))
	h.Write([]byte(eventType))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// ---- Delivery pipeline ----

// Handle authenticates, deduplicates and dispatches one delivery:
// headers → signature → parse → tenant check → idempotency → dispatch.
// The key is recorded only after a successful dispatch, so a vendor retry
// after a handler failure can still succeed.
func (g *Gateway) Handle(ctx context.Context, body []byte, headers http.Header, opts Options) Result {
	start := time.Now()
	done := func(r Result) Result {
		r.ProcessingTimeMs = time.Since(start).Milliseconds()
		observability.WebhookEvents.WithLabelValues(resultLabel(r)).Inc()
		return r
	}
	reject := func(status int, code, detail string) Result {
		return done(Result{StatusCode: status, ErrCode: code, ErrDetail: detail})
	}

	sig := headers.Get(g.sigHeader)
	ts := headers.Get(g.tsHeader)

	check := VerifySignature(body, sig, ts, g.secret, g.now())
	if !check.Valid {
		log.Warn().Str("reason", check.Reason).Int64("age_s", check.AgeSeconds).Msg("webhook signature rejected")
		return reject(http.StatusUnauthorized, "invalid_signature", check.Reason)
	}

	ev, err := ParseEvent(body)
	if err != nil {
		return reject(http.StatusBadRequest, "invalid_payload", err.Error())
	}

	if ev.PropertyID != g.property {
		log.Warn().Str("got", ev.PropertyID).Str("want", g.property).Msg("webhook for wrong property")
		return reject(http.StatusForbidden, "property_mismatch",
			fmt.Sprintf("event is for property %q, gateway serves %q", ev.PropertyID, g.property))
	}

	key := IdempotencyKey(ev.PropertyID, ev.Event, body)

	seen, err := g.idem.Seen(ctx, key)
	if err != nil {
		// A broken dedup store must not drop deliveries; fall through to
		// dispatch (at-least-once beats at-most-once here).
		log.Error().Err(err).Msg("idempotency lookup failed, dispatching anyway")
		if opts.OnError != nil {
			opts.OnError(err)
		}
	}
	if seen {
		return done(Result{
			StatusCode:     http.StatusOK,
			Message:        "event already processed",
			Event:          ev.Event,
			PropertyID:     ev.PropertyID,
			IdempotencyKey: key,
			Duplicate:      true,
		})
	}

	if opts.OnEvent != nil {
		if err := opts.OnEvent(ctx, ev); err != nil {
			if opts.OnError != nil {
				opts.OnError(err)
			}
			log.Error().Err(err).Str("event", ev.Event).Msg("webhook dispatch failed")
			return reject(http.StatusInternalServerError, "handler_error", "event handler failed")
		}
	}

	if err := g.idem.Mark(ctx, key, g.now()); err != nil {
		// The event is already dispatched; a missed mark only risks one
		// redundant upsert on redelivery.
		log.Error().Err(err).Msg("idempotency mark failed")
		if opts.OnError != nil {
			opts.OnError(err)
		}
	}

	return done(Result{
		StatusCode:     http.StatusOK,
		Message:        "event processed",
		Event:          ev.Event,
		PropertyID:     ev.PropertyID,
		IdempotencyKey: key,
	})
}

func resultLabel(r Result) string {
	switch {
	case r.Duplicate:
		return "duplicate"
	case r.StatusCode == http.StatusOK:
		return "processed"
	case r.StatusCode == http.StatusUnauthorized:
		return "auth_rejected"
	case r.StatusCode == http.StatusForbidden:
		return "property_mismatch"
	case r.StatusCode == http.StatusBadRequest:
		return "invalid_payload"
	default:
		return "handler_error"
	}
}

// ---- HTTP adapter ----

// Handler exposes the gateway as an http.HandlerFunc writing the structured
// result as JSON, with the idempotency key and processing time echoed in
// response headers.
func (g *Gateway) Handler(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, `{"error":"unreadable body"}`, http.StatusBadRequest)
			return
		}

		res := g.Handle(r.Context(), body, r.Header, opts)

		w.Header().Set("Content-Type", "application/json")
		if res.IdempotencyKey != "" {
			w.Header().Set("X-Idempotency-Key", res.IdempotencyKey)
		}
		w.Header().Set("X-Processing-Time-Ms", strconv.FormatInt(res.ProcessingTimeMs, 10))
		w.WriteHeader(res.StatusCode)

		var payload any
		if res.ErrCode != "" {
			payload = map[string]any{"error": res.ErrDetail, "code": res.ErrCode}
		} else {
			payload = map[string]any{
				"message":          res.Message,
				"event":            res.Event,
				"propertyId":       res.PropertyID,
				"processingTimeMs": res.ProcessingTimeMs,
				"idempotencyKey":   res.IdempotencyKey,
			}
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Error().Err(err).Msg("failed to write webhook response")
		}
	}
}
