package redisad_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	redisad "pmsync/internal/adapters/redis"
	"pmsync/internal/domain"
)

func newStore(t *testing.T) (*redisad.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return redisad.New(mr.Addr(), "", 0, time.Hour), mr
}

func TestTokenStore_RoundTrip(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	tok, err := s.GetToken(ctx, "prop-1")
	if err != nil || tok != nil {
		t.Fatalf("absent token must be (nil, nil): %v %v", tok, err)
	}

	want := domain.OAuthToken{AccessToken: "tok-123", TokenType: "Bearer", ExpiresIn: 3600, CreatedAt: 1700000000}
	if err := s.SaveToken(ctx, "prop-1", want); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	got, err := s.GetToken(ctx, "prop-1")
	if err != nil || got == nil {
		t.Fatalf("GetToken: %v %v", got, err)
	}
	if *got != want {
		t.Fatalf("token mismatch: %+v", got)
	}

	// token for another property is independent
	if other, _ := s.GetToken(ctx, "prop-2"); other != nil {
		t.Fatalf("token leaked across properties")
	}
}

func TestTokenStore_ExpiresWithToken(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	_ = s.SaveToken(ctx, "prop-1", domain.OAuthToken{AccessToken: "tok", ExpiresIn: 60, CreatedAt: 1})
	mr.FastForward(61 * time.Second)

	if tok, _ := s.GetToken(ctx, "prop-1"); tok != nil {
		t.Fatalf("expired token still stored: %+v", tok)
	}
}

func TestCursorStore_RoundTrip(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	c, err := s.LastSyncTime(ctx, "prop-1")
	if err != nil || c != nil {
		t.Fatalf("absent cursor must be (nil, nil): %v %v", c, err)
	}

	want := time.Date(2024, 7, 1, 12, 30, 45, 123456789, time.UTC)
	if err := s.SetLastSyncTime(ctx, "prop-1", want); err != nil {
		t.Fatalf("SetLastSyncTime: %v", err)
	}
	got, err := s.LastSyncTime(ctx, "prop-1")
	if err != nil || got == nil || !got.Equal(want) {
		t.Fatalf("cursor mismatch: %v %v", got, err)
	}
}

func TestIdempotencyStore_SeenMarkAndTTL(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()
	key := "abc123"

	seen, err := s.Seen(ctx, key)
	if err != nil || seen {
		t.Fatalf("fresh key must be unseen: %v %v", seen, err)
	}
	if err := s.Mark(ctx, key, time.Now()); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if seen, _ = s.Seen(ctx, key); !seen {
		t.Fatalf("marked key must be seen")
	}

	// entries expire so the cache stays bounded
	mr.FastForward(2 * time.Hour)
	if seen, _ = s.Seen(ctx, key); seen {
		t.Fatalf("entry survived its TTL")
	}
}

func TestCache_RoundTrip(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	type payload struct{ Name string }
	var out payload

	ok, err := s.Get(ctx, "k", &out)
	if err != nil || ok {
		t.Fatalf("miss expected: %v %v", ok, err)
	}
	if err := s.Set(ctx, "k", payload{Name: "x"}, 60); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ok, err = s.Get(ctx, "k", &out)
	if err != nil || !ok || out.Name != "x" {
		t.Fatalf("hit expected: %v %v %+v", ok, err, out)
	}
	if err := s.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if ok, _ = s.Get(ctx, "k", &out); ok {
		t.Fatalf("deleted key still present")
	}
}
