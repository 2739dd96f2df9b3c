package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"pmsync/internal/adapters/webhook"
	"pmsync/internal/domain"
)

const testSecret = "whsec_tttesting"

var fixedNow = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

// ---- fakes ----

type memIdem struct {
	seen    map[string]time.Time
	seenErr error
	markErr error
}

func newMemIdem() *memIdem { return &memIdem{seen: map[string]time.Time{}} }

func (m *memIdem) Seen(ctx context.Context, key string) (bool, error) {
	if m.seenErr != nil {
		return false, m.seenErr
	}
	_, ok := m.seen[key]
	return ok, nil
}

func (m *memIdem) Mark(ctx context.Context, key string, at time.Time) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.seen[key] = at
	return nil
}

// ---- helpers ----

func newGateway(t *testing.T, idem domain.IdempotencyStore) *webhook.Gateway {
	t.Helper()
	g, err := webhook.New(webhook.Config{
		Secret:      testSecret,
		PropertyID:  "prop-1",
		Idempotency: idem,
		Now:         func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("webhook.New: %v", err)
	}
	return g
}

func eventBody(t *testing.T, propertyID string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"event":       domain.EventReservationCreated,
		"timestamp":   "2024-07-01T11:59:00Z",
		"property_id": propertyID,
		"data": map[string]any{
			"reservation_id": "RES-1001",
			"property_id":    propertyID,
			"guest":          map[string]any{"name": "Maria Silva"},
			"room":           map[string]any{"type": "Quarto Duplo", "number": "204"},
			"dates": map[string]any{
				"check_in":   "2024-07-10",
				"check_out":  "2024-07-12",
				"created_at": "2024-07-01T09:00:00Z",
			},
			"pricing": map[string]any{"total": 540.0, "currency": "BRL"},
			"status":  "confirmado",
			"channel": "direto",
		},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return b
}

func signedHeaders(body []byte, at time.Time) http.Header {
	ts := strconv.FormatInt(at.Unix(), 10)
	h := http.Header{}
	h.Set(webhook.DefaultSignatureHeader, webhook.Sign(testSecret, ts, body))
	h.Set(webhook.DefaultTimestampHeader, ts)
	return h
}

// ---- signature ----

func TestVerifySignature_ValidWithinWindow(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	for _, age := range []time.Duration{0, time.Second, 300 * time.Second} {
		at := fixedNow.Add(-age)
		ts := strconv.FormatInt(at.Unix(), 10)
		check := webhook.VerifySignature(body, webhook.Sign(testSecret, ts, body), ts, testSecret, fixedNow)
		if !check.Valid {
			t.Fatalf("age %v rejected: %s", age, check.Reason)
		}
	}
}

func TestVerifySignature_SingleBitMutation(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	ts := strconv.FormatInt(fixedNow.Unix(), 10)
	sig := webhook.Sign(testSecret, ts, body)

	mutated := append([]byte(nil), body...)
	mutated[0] ^= 0x01
	check := webhook.VerifySignature(mutated, sig, ts, testSecret, fixedNow)
	if check.Valid || check.Reason != "signature mismatch" {
		t.Fatalf("mutated payload accepted: %+v", check)
	}
}

func TestVerifySignature_FreshnessBounds(t *testing.T) {
	body := []byte(`{}`)

	// 301s old: rejected for staleness even with a correct signature
	stale := strconv.FormatInt(fixedNow.Add(-301*time.Second).Unix(), 10)
	check := webhook.VerifySignature(body, webhook.Sign(testSecret, stale, body), stale, testSecret, fixedNow)
	if check.Valid {
		t.Fatalf("stale timestamp accepted")
	}
	if check.AgeSeconds != 301 || check.Reason == "signature mismatch" {
		t.Fatalf("staleness must be distinguishable from bad credentials: %+v", check)
	}

	// 1s in the future: distinct rejection
	future := strconv.FormatInt(fixedNow.Add(time.Second).Unix(), 10)
	check = webhook.VerifySignature(body, webhook.Sign(testSecret, future, body), future, testSecret, fixedNow)
	if check.Valid || check.Reason != "timestamp is in the future" {
		t.Fatalf("future timestamp: %+v", check)
	}
}

func TestVerifySignature_InputErrors(t *testing.T) {
	body := []byte(`{}`)
	ts := strconv.FormatInt(fixedNow.Unix(), 10)
	sig := webhook.Sign(testSecret, ts, body)

	cases := []struct {
		name                           string
		payload                        []byte
		sig, timestamp, secret, reason string
	}{
		{"empty payload", nil, sig, ts, testSecret, "empty payload"},
		{"missing signature", body, "", ts, testSecret, "missing signature header"},
		{"missing timestamp", body, sig, "", testSecret, "missing timestamp header"},
		{"no secret", body, sig, ts, "", "no signing secret configured"},
		{"non-numeric timestamp", body, sig, "yesterday", testSecret, "timestamp is not a unix epoch number"},
	}
	for _, c := range cases {
		check := webhook.VerifySignature(c.payload, c.sig, c.timestamp, c.secret, fixedNow)
		if check.Valid || check.Reason != c.reason {
			t.Errorf("%s: got %+v, want reason %q", c.name, check, c.reason)
		}
	}
}

// ---- parsing ----

func TestParseEvent(t *testing.T) {
	ev, err := webhook.ParseEvent(eventBody(t, "prop-1"))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev.Event != domain.EventReservationCreated || ev.PropertyID != "prop-1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Data.ReservationID != "RES-1001" || ev.Data.Guest.Name != "Maria Silva" {
		t.Fatalf("data not decoded: %+v", ev.Data)
	}
}

func TestParseEvent_Rejections(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{nope`, "malformed JSON"},
		{"missing event", `{"timestamp":"t","property_id":"p","data":{}}`, "missing event"},
		{"unknown type", `{"event":"room.painted","timestamp":"t","property_id":"p","data":{}}`, "unrecognized event type"},
		{"missing timestamp", `{"event":"reservation.created","property_id":"p","data":{}}`, "missing timestamp"},
		{"missing property", `{"event":"reservation.created","timestamp":"t","data":{}}`, "missing property_id"},
		{"missing data", `{"event":"reservation.created","timestamp":"t","property_id":"p"}`, "missing data"},
	}
	for _, c := range cases {
		_, err := webhook.ParseEvent([]byte(c.body))
		if err == nil || !bytes.Contains([]byte(err.Error()), []byte(c.want)) {
			t.Errorf("%s: got %v, want %q", c.name, err, c.want)
		}
	}
}

func TestIdempotencyKey_Deterministic(t *testing.T) {
	body := eventBody(t, "prop-1")
	k1 := webhook.IdempotencyKey("prop-1", domain.EventReservationCreated, body)
	k2 := webhook.IdempotencyKey("prop-1", domain.EventReservationCreated, body)
	if k1 != k2 {
		t.Fatalf("key not deterministic: %s vs %s", k1, k2)
	}
	if len(k1) != 64 {
		t.Fatalf("expected hex sha256, got %q", k1)
	}
	if webhook.IdempotencyKey("prop-2", domain.EventReservationCreated, body) == k1 {
		t.Fatalf("different property must produce different key")
	}
}

// ---- pipeline ----

func TestHandle_SuccessThenDuplicate(t *testing.T) {
	idem := newMemIdem()
	g := newGateway(t, idem)
	body := eventBody(t, "prop-1")
	headers := signedHeaders(body, fixedNow)

	var dispatched int
	opts := webhook.Options{
		OnEvent: func(ctx context.Context, ev domain.WebhookEvent) error {
			dispatched++
			return nil
		},
	}

	first := g.Handle(context.Background(), body, headers, opts)
	if first.StatusCode != http.StatusOK || first.Duplicate {
		t.Fatalf("first delivery: %+v", first)
	}
	second := g.Handle(context.Background(), body, headers, opts)
	if second.StatusCode != http.StatusOK || !second.Duplicate {
		t.Fatalf("second delivery should be a duplicate success: %+v", second)
	}
	if first.IdempotencyKey == "" || first.IdempotencyKey != second.IdempotencyKey {
		t.Fatalf("keys differ: %q vs %q", first.IdempotencyKey, second.IdempotencyKey)
	}
	if dispatched != 1 {
		t.Fatalf("duplicate must not re-dispatch, got %d calls", dispatched)
	}
}

func TestHandle_PropertyMismatch(t *testing.T) {
	g := newGateway(t, newMemIdem())
	body := eventBody(t, "prop-OTHER")
	headers := signedHeaders(body, fixedNow)

	called := false
	res := g.Handle(context.Background(), body, headers, webhook.Options{
		OnEvent: func(ctx context.Context, ev domain.WebhookEvent) error {
			called = true
			return nil
		},
	})

	if res.StatusCode != http.StatusForbidden || res.ErrCode != "property_mismatch" {
		t.Fatalf("expected 403 property_mismatch: %+v", res)
	}
	if called {
		t.Fatalf("mismatched event must never be dispatched")
	}
}

func TestHandle_BadSignatureRejected(t *testing.T) {
	g := newGateway(t, newMemIdem())
	body := eventBody(t, "prop-1")
	headers := signedHeaders(body, fixedNow)
	headers.Set(webhook.DefaultSignatureHeader, "deadbeef")

	res := g.Handle(context.Background(), body, headers, webhook.Options{})
	if res.StatusCode != http.StatusUnauthorized || res.ErrCode != "invalid_signature" {
		t.Fatalf("expected 401: %+v", res)
	}
}

func TestHandle_HandlerErrorNotCached(t *testing.T) {
	idem := newMemIdem()
	g := newGateway(t, idem)
	body := eventBody(t, "prop-1")
	headers := signedHeaders(body, fixedNow)

	var handlerErrs []error
	boom := errors.New("sink unavailable")
	res := g.Handle(context.Background(), body, headers, webhook.Options{
		OnEvent: func(ctx context.Context, ev domain.WebhookEvent) error { return boom },
		OnError: func(err error) { handlerErrs = append(handlerErrs, err) },
	})
	if res.StatusCode != http.StatusInternalServerError || res.ErrCode != "handler_error" {
		t.Fatalf("expected 500: %+v", res)
	}
	if len(handlerErrs) != 1 || !errors.Is(handlerErrs[0], boom) {
		t.Fatalf("OnError not invoked with handler error: %v", handlerErrs)
	}
	if len(idem.seen) != 0 {
		t.Fatalf("failed dispatch must not cache the key")
	}

	// vendor retry of the same delivery can still succeed
	retry := g.Handle(context.Background(), body, headers, webhook.Options{
		OnEvent: func(ctx context.Context, ev domain.WebhookEvent) error { return nil },
	})
	if retry.StatusCode != http.StatusOK || retry.Duplicate {
		t.Fatalf("retry after handler failure should process: %+v", retry)
	}
}

func TestHandle_BrokenIdempotencyStoreStillDispatches(t *testing.T) {
	idem := newMemIdem()
	idem.seenErr = errors.New("redis down")
	g := newGateway(t, idem)
	body := eventBody(t, "prop-1")

	dispatched := false
	res := g.Handle(context.Background(), body, signedHeaders(body, fixedNow), webhook.Options{
		OnEvent: func(ctx context.Context, ev domain.WebhookEvent) error {
			dispatched = true
			return nil
		},
	})
	if res.StatusCode != http.StatusOK || !dispatched {
		t.Fatalf("delivery dropped on store failure: %+v", res)
	}
}

// ---- HTTP adapter ----

func TestHandler_HTTP(t *testing.T) {
	g := newGateway(t, newMemIdem())
	body := eventBody(t, "prop-1")
	ts := strconv.FormatInt(fixedNow.Unix(), 10)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/pms", bytes.NewReader(body))
	// lower-case header names exercise case-insensitive extraction
	req.Header.Set("x-pms-signature", webhook.Sign(testSecret, ts, body))
	req.Header.Set("x-pms-timestamp", ts)

	rr := httptest.NewRecorder()
	g.Handler(webhook.Options{
		OnEvent: func(ctx context.Context, ev domain.WebhookEvent) error { return nil },
	})(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Idempotency-Key") == "" {
		t.Fatalf("idempotency key header missing")
	}
	if rr.Header().Get("X-Processing-Time-Ms") == "" {
		t.Fatalf("processing time header missing")
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if resp["idempotencyKey"] != rr.Header().Get("X-Idempotency-Key") {
		t.Fatalf("key in body and header differ: %v", resp)
	}
	if resp["propertyId"] != "prop-1" {
		t.Fatalf("unexpected body: %v", resp)
	}
}

func TestHandler_HTTPErrorBody(t *testing.T) {
	g := newGateway(t, newMemIdem())
	body := eventBody(t, "prop-1")

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/pms", bytes.NewReader(body))
	req.Header.Set(webhook.DefaultSignatureHeader, "not-a-signature")
	req.Header.Set(webhook.DefaultTimestampHeader, fmt.Sprint(fixedNow.Unix()))

	rr := httptest.NewRecorder()
	g.Handler(webhook.Options{})(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rr.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["code"] != "invalid_signature" {
		t.Fatalf("unexpected error body: %s", rr.Body.String())
	}
}
