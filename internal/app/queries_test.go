package app_test

import (
	"context"
	"testing"
	"time"

	"pmsync/internal/app"
	"pmsync/internal/domain"
)

// ---- fakes ----

type fakeReader struct {
	booking domain.CanonicalBooking
	list    []domain.CanonicalBooking
}

func (f *fakeReader) GetBooking(ctx context.Context, propertyID, externalID string) (domain.CanonicalBooking, error) {
	return f.booking, nil
}

func (f *fakeReader) ListRecentBookings(ctx context.Context, propertyID string, limit int) ([]domain.CanonicalBooking, error) {
	return f.list, nil
}

type fakeCache struct {
	store map[string]any
}

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	if c.store == nil {
		return false, nil
	}
	v, ok := c.store[key]
	if !ok {
		return false, nil
	}
	switch d := dst.(type) {
	case *domain.CanonicalBooking:
		*d = v.(domain.CanonicalBooking)
	case *[]domain.CanonicalBooking:
		*d = v.([]domain.CanonicalBooking)
	}
	return true, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	if c.store == nil {
		c.store = map[string]any{}
	}
	c.store[key] = v
	return nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	delete(c.store, key)
	return nil
}

// ---- tests ----

func TestGetBooking_CacheMissThenHit(t *testing.T) {
	reader := &fakeReader{
		booking: domain.CanonicalBooking{ID: "b-1", ExternalID: "RES-1001", PropertyID: "prop-1", GuestName: "Maria Silva"},
	}
	cache := &fakeCache{}
	q := app.NewQueryService(reader, cache, 10*time.Minute)

	// Miss (first time, populates cache)
	b, err := q.GetBooking(context.Background(), "prop-1", "RES-1001")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if b.GuestName != "Maria Silva" {
		t.Fatalf("unexpected booking: %+v", b)
	}

	// Mutate reader to ensure second read indeed comes from cache
	reader.booking.GuestName = "SHOULD NOT SEE THIS"

	b2, err := q.GetBooking(context.Background(), "prop-1", "RES-1001")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if b2.GuestName != "Maria Silva" {
		t.Fatalf("expected cached name, got %s", b2.GuestName)
	}
}

func TestListRecentBookings_CacheAndInvalidate(t *testing.T) {
	reader := &fakeReader{
		list: []domain.CanonicalBooking{{ID: "b-1", ExternalID: "RES-1001", PropertyID: "prop-1"}},
	}
	cache := &fakeCache{}
	q := app.NewQueryService(reader, cache, 10*time.Minute)

	out, err := q.ListRecentBookings(context.Background(), "prop-1", 50)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(out) != 1 || out[0].ExternalID != "RES-1001" {
		t.Fatalf("unexpected list: %+v", out)
	}

	// Change reader, call again -> should come from cache
	reader.list = nil
	out2, _ := q.ListRecentBookings(context.Background(), "prop-1", 50)
	if len(out2) != 1 {
		t.Fatalf("expected cached list, got %+v", out2)
	}

	// Invalidation drops the cached list
	q.InvalidateBooking(context.Background(), "prop-1", "RES-1001")
	out3, _ := q.ListRecentBookings(context.Background(), "prop-1", 50)
	if len(out3) != 0 {
		t.Fatalf("expected fresh read after invalidation, got %+v", out3)
	}
}
