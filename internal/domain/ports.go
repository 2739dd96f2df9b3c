package domain

import (
	"context"
	"time"
)

// TokenStore persists OAuth tokens per property. GetToken returns (nil, nil)
// when no token is stored.
type TokenStore interface {
	GetToken(ctx context.Context, propertyID string) (*OAuthToken, error)
	SaveToken(ctx context.Context, propertyID string, t OAuthToken) error
}

// CursorStore persists the incremental-sync watermark per property.
// LastSyncTime returns (nil, nil) when no cursor exists, which means
// "perform a full sync".
type CursorStore interface {
	LastSyncTime(ctx context.Context, propertyID string) (*time.Time, error)
	SetLastSyncTime(ctx context.Context, propertyID string, t time.Time) error
}

// IdempotencyStore remembers processed webhook deliveries by key.
// Implementations are expected to expire entries (TTL), keeping the cache
// bounded in long-running processes.
type IdempotencyStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string, at time.Time) error
}

// BookingSink receives canonical bookings from both delivery paths.
type BookingSink interface {
	UpsertBooking(ctx context.Context, b CanonicalBooking) error
}

// BookingReader is the read side of the booking store.
type BookingReader interface {
	GetBooking(ctx context.Context, propertyID, externalID string) (CanonicalBooking, error)
	ListRecentBookings(ctx context.Context, propertyID string, limit int) ([]CanonicalBooking, error)
}

// ReservationQuery selects one listing page. Limit and Offset fall back to
// the client's page size / zero when unset.
type ReservationQuery struct {
	UpdatedSince *time.Time
	Limit        int
	Offset       int
}

// ReservationPage mirrors the vendor's listing response.
type ReservationPage struct {
	Reservations []VendorReservation `json:"reservations"`
	Total        int                 `json:"total"`
	Page         int                 `json:"page"`
	Limit        int                 `json:"limit"`
	HasMore      bool                `json:"has_more"`
}

// FetchAllOptions drives serial pagination. MaxPages is a hard ceiling
// regardless of has_more; zero means unbounded. OnReservation fires once per
// record as each page arrives; OnPage fires once per page after its records.
type FetchAllOptions struct {
	UpdatedSince  *time.Time
	MaxPages      int
	OnReservation func(VendorReservation)
	OnPage        func([]VendorReservation)
}

// PMSClient is the authenticated polling interface to the vendor API.
type PMSClient interface {
	FetchReservations(ctx context.Context, q ReservationQuery) (ReservationPage, error)
	FetchAllReservations(ctx context.Context, opts FetchAllOptions) ([]VendorReservation, error)
}

// Cache is a generic JSON cache used by the read path.
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}
