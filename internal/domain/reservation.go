package domain

import (
	"encoding/json"
	"time"
)

// VendorReservation is a reservation exactly as the PMS delivers it,
// either inside a webhook payload or in a listing page. Never mutated.
type VendorReservation struct {
	ReservationID string        `json:"reservation_id"`
	PropertyID    string        `json:"property_id"`
	Guest         VendorGuest   `json:"guest"`
	Room          VendorRoom    `json:"room"`
	Dates         VendorDates   `json:"dates"`
	Pricing       VendorPricing `json:"pricing"`
	Status        string        `json:"status"`
	Channel       string        `json:"channel"`
	PaymentMethod *string       `json:"payment_method,omitempty"`
	SpecialReqs   *string       `json:"special_requests,omitempty"`
}

type VendorGuest struct {
	Name    string  `json:"name"`
	Email   *string `json:"email,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Country *string `json:"country,omitempty"`
}

type VendorRoom struct {
	Type   string `json:"type"`
	Number string `json:"number"`
	Floor  *int   `json:"floor,omitempty"`
}

// Dates arrive as strings; check_in/check_out are date-only,
// created_at/updated_at are full timestamps.
type VendorDates struct {
	CheckIn   string  `json:"check_in"`
	CheckOut  string  `json:"check_out"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt *string `json:"updated_at,omitempty"`
}

type VendorPricing struct {
	Total    float64 `json:"total"`
	Currency string  `json:"currency"`
	RatePlan *string `json:"rate_plan,omitempty"`
}

type BookingStatus string

const (
	StatusConfirmed  BookingStatus = "confirmed"
	StatusCancelled  BookingStatus = "cancelled"
	StatusCheckedIn  BookingStatus = "checked_in"
	StatusCheckedOut BookingStatus = "checked_out"
	StatusNoShow     BookingStatus = "no_show"
	StatusPending    BookingStatus = "pending"
)

type BookingChannel string

const (
	ChannelDirect BookingChannel = "direct"
	ChannelOTA    BookingChannel = "ota"
	ChannelAgent  BookingChannel = "agent"
	ChannelOther  BookingChannel = "other"
)

// CanonicalBooking is the vendor-agnostic reservation produced by the mapper.
// Immutable after creation; Sanitize returns a masked copy.
type CanonicalBooking struct {
	ID            string          `json:"id"`
	ExternalID    string          `json:"external_id"`
	Source        string          `json:"source"`
	PropertyID    string          `json:"property_id"`
	GuestName     string          `json:"guest_name"`
	GuestEmail    *string         `json:"guest_email,omitempty"`
	GuestPhone    *string         `json:"guest_phone,omitempty"`
	GuestCountry  *string         `json:"guest_country,omitempty"`
	RoomNumber    string          `json:"room_number"`
	RoomType      string          `json:"room_type"`
	CheckIn       time.Time       `json:"check_in"`
	CheckOut      time.Time       `json:"check_out"`
	BookedAt      time.Time       `json:"booked_at"`
	TotalAmount   float64         `json:"total_amount"`
	Currency      string          `json:"currency"`
	Status        BookingStatus   `json:"status"`
	Channel       BookingChannel  `json:"channel"`
	PaymentMethod *string         `json:"payment_method,omitempty"`
	LeadTimeDays  int             `json:"lead_time_days"`
	StayNights    int             `json:"length_of_stay_nights"`
	SyncedAt      time.Time       `json:"synced_at"`
	SchemaVersion string          `json:"schema_version"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// OAuthToken is a client-credentials bearer token. Replaced wholesale on
// refresh, never partially mutated. CreatedAt is epoch seconds.
type OAuthToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	CreatedAt   int64  `json:"created_at"`
}

// Fresh reports whether the token is still usable, i.e. not within buffer of
// its expiry. Refresh is always proactive against this window.
func (t OAuthToken) Fresh(now time.Time, buffer time.Duration) bool {
	if t.AccessToken == "" {
		return false
	}
	expiry := time.Unix(t.CreatedAt+t.ExpiresIn, 0)
	return now.Before(expiry.Add(-buffer))
}

// WebhookEvent is a validated vendor push notification.
type WebhookEvent struct {
	Event      string            `json:"event"`
	Timestamp  string            `json:"timestamp"`
	PropertyID string            `json:"property_id"`
	Data       VendorReservation `json:"data"`
}

// Webhook event types the gateway accepts. Anything else is rejected at parse.
const (
	EventReservationCreated   = "reservation.created"
	EventReservationUpdated   = "reservation.updated"
	EventReservationCancelled = "reservation.cancelled"
	EventGuestCheckedIn       = "guest.checked_in"
	EventGuestCheckedOut      = "guest.checked_out"
)

// SyncResult aggregates one incremental sync pass.
type SyncResult struct {
	Success          bool
	RecordsProcessed int
	RecordsSaved     int
	RecordsFailed    int
	Errors           []string
	StartedAt        time.Time
	FinishedAt       time.Time
}
