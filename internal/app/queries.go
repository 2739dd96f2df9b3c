package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pmsync/internal/domain"
)

type QueryService struct {
	reader   domain.BookingReader
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewQueryService(r domain.BookingReader, c domain.Cache, ttl time.Duration) *QueryService {
	return &QueryService{reader: r, cache: c, cacheTTL: ttl}
}

func (s *QueryService) GetBooking(ctx context.Context, propertyID, externalID string) (domain.CanonicalBooking, error) {
	key := fmt.Sprintf("booking:%s:%s", propertyID, externalID)
	var b domain.CanonicalBooking
	if ok, _ := s.cache.Get(ctx, key, &b); ok {
		return b, nil
	}
	b, err := s.reader.GetBooking(ctx, propertyID, externalID)
	if err != nil {
		return domain.CanonicalBooking{}, err
	}
	_ = s.cache.Set(ctx, key, b, int(s.cacheTTL.Seconds()))
	return b, nil
}

func (s *QueryService) ListRecentBookings(ctx context.Context, propertyID string, limit int) ([]domain.CanonicalBooking, error) {
	key := fmt.Sprintf("bookings:%s:%d", propertyID, limit)
	var out []domain.CanonicalBooking
	if ok, _ := s.cache.Get(ctx, key, &out); ok {
		return out, nil
	}

	bs, err := s.reader.ListRecentBookings(ctx, propertyID, limit)
	if err != nil {
		return nil, err
	}

	// copy slice so callers can't mutate the cached value through aliasing
	cp := make([]domain.CanonicalBooking, len(bs))
	copy(cp, bs)

	// optional size guard
	if b, _ := json.Marshal(cp); len(b) < 1_000_000 {
		_ = s.cache.Set(ctx, key, cp, int(s.cacheTTL.Seconds()))
	}
	return cp, nil
}

// InvalidateBooking evicts the read-side cache entries a fresh upsert makes stale.
func (s *QueryService) InvalidateBooking(ctx context.Context, propertyID, externalID string) {
	_ = s.cache.Del(ctx, fmt.Sprintf("booking:%s:%s", propertyID, externalID))
	for _, lim := range []int{50, 100, 200} {
		_ = s.cache.Del(ctx, fmt.Sprintf("bookings:%s:%d", propertyID, lim))
	}
}
