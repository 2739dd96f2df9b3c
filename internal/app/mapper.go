package app

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"pmsync/internal/domain"
)

const (
	// DefaultSchemaVersion stamps canonical bookings when no version is given.
	DefaultSchemaVersion = "1.0"

	sourceTag = "pms"
)

/********** lookup registries (single source of truth) **********/

// Vendor statuses seen in the wild, including pt/es spellings. Unknown values
// fall back to "confirmed"; use MapStatusKnown when the caller wants to know.
var statusTable = map[string]domain.BookingStatus{
	"confirmed":   domain.StatusConfirmed,
	"confirmado":  domain.StatusConfirmed,
	"confirmada":  domain.StatusConfirmed,
	"cancelled":   domain.StatusCancelled,
	"canceled":    domain.StatusCancelled,
	"cancelado":   domain.StatusCancelled,
	"cancelada":   domain.StatusCancelled,
	"checked_in":  domain.StatusCheckedIn,
	"checkin":     domain.StatusCheckedIn,
	"check_in":    domain.StatusCheckedIn,
	"hospedado":   domain.StatusCheckedIn,
	"checked_out": domain.StatusCheckedOut,
	"checkout":    domain.StatusCheckedOut,
	"check_out":   domain.StatusCheckedOut,
	"finalizado":  domain.StatusCheckedOut,
	"no_show":     domain.StatusNoShow,
	"noshow":      domain.StatusNoShow,
	"no_presento": domain.StatusNoShow,
	"pending":     domain.StatusPending,
	"pendente":    domain.StatusPending,
	"pendiente":   domain.StatusPending,
}

var channelTable = map[string]domain.BookingChannel{
	"direct":      domain.ChannelDirect,
	"direto":      domain.ChannelDirect,
	"directo":     domain.ChannelDirect,
	"website":     domain.ChannelDirect,
	"walk_in":     domain.ChannelDirect,
	"phone":       domain.ChannelDirect,
	"ota":         domain.ChannelOTA,
	"booking.com": domain.ChannelOTA,
	"booking":     domain.ChannelOTA,
	"expedia":     domain.ChannelOTA,
	"airbnb":      domain.ChannelOTA,
	"despegar":    domain.ChannelOTA,
	"decolar":     domain.ChannelOTA,
	"agent":       domain.ChannelAgent,
	"agency":      domain.ChannelAgent,
	"agencia":     domain.ChannelAgent,
	"agência":     domain.ChannelAgent,
	"operadora":   domain.ChannelAgent,
}

// Room type names keyed lowercase. Canonical English names map to themselves
// so MapRoomType is idempotent; anything unrecognized passes through.
var roomTypeTable = map[string]string{
	"single":                "Single Room",
	"single room":           "Single Room",
	"quarto solteiro":       "Single Room",
	"quarto individual":     "Single Room",
	"habitación individual": "Single Room",
	"habitacion individual": "Single Room",
	"double":                "Double Room",
	"double room":           "Double Room",
	"quarto duplo":          "Double Room",
	"quarto casal":          "Double Room",
	"habitación doble":      "Double Room",
	"habitacion doble":      "Double Room",
	"twin":                  "Twin Room",
	"twin room":             "Twin Room",
	"quarto twin":           "Twin Room",
	"triple":                "Triple Room",
	"triple room":           "Triple Room",
	"quarto triplo":         "Triple Room",
	"habitación triple":     "Triple Room",
	"habitacion triple":     "Triple Room",
	"suite":                 "Suite",
	"suíte":                 "Suite",
	"suite master":          "Master Suite",
	"master suite":          "Master Suite",
	"suíte master":          "Master Suite",
	"family":                "Family Room",
	"family room":           "Family Room",
	"quarto família":        "Family Room",
	"quarto familia":        "Family Room",
	"habitación familiar":   "Family Room",
	"habitacion familiar":   "Family Room",
	"deluxe":                "Deluxe Room",
	"deluxe room":           "Deluxe Room",
	"quarto deluxe":         "Deluxe Room",
	"habitación deluxe":     "Deluxe Room",
	"habitacion deluxe":     "Deluxe Room",
}

/********** enum mappers **********/

// MapStatus maps a vendor status to the canonical enum, defaulting to
// confirmed for values it has never seen.
func MapStatus(v string) domain.BookingStatus {
	s, _ := MapStatusKnown(v)
	return s
}

// MapStatusKnown also reports whether the vendor value was recognized, so
// callers can surface data-quality problems instead of silently defaulting.
func MapStatusKnown(v string) (domain.BookingStatus, bool) {
	if s, ok := statusTable[strings.ToLower(strings.TrimSpace(v))]; ok {
		return s, true
	}
	return domain.StatusConfirmed, false
}

func MapChannel(v string) domain.BookingChannel {
	c, _ := MapChannelKnown(v)
	return c
}

func MapChannelKnown(v string) (domain.BookingChannel, bool) {
	if c, ok := channelTable[strings.ToLower(strings.TrimSpace(v))]; ok {
		return c, true
	}
	return domain.ChannelOther, false
}

// MapRoomType resolves vendor room-type names (multi-locale) to canonical
// English names, case-insensitively. Unrecognized names pass through as-is.
func MapRoomType(v string) string {
	if c, ok := roomTypeTable[strings.ToLower(strings.TrimSpace(v))]; ok {
		return c
	}
	return v
}

/********** date helpers **********/

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseVendorTime accepts the formats the PMS is known to emit. Always UTC.
func parseVendorTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// dateOnly truncates to midnight UTC.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

/********** derived values **********/

// CalculateLeadTime returns whole days between booking creation and check-in,
// floored, never negative.
func CalculateLeadTime(bookedAt, checkIn time.Time) int {
	days := int(checkIn.Sub(bookedAt).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// CalculateLengthOfStay returns whole nights between check-in and check-out,
// floored, never below one.
func CalculateLengthOfStay(checkIn, checkOut time.Time) int {
	nights := int(checkOut.Sub(checkIn).Hours() / 24)
	if nights < 1 {
		return 1
	}
	return nights
}

/********** canonical mapping **********/

// MapOptions tunes MapToUnified. The zero value generates an id, strips the
// raw payload, and stamps DefaultSchemaVersion.
type MapOptions struct {
	SuppressID     bool
	IncludeRawData bool
	Version        string
}

// MapToUnified assembles the canonical booking from a vendor record. The
// record is expected to have passed Validate; behavior on unvalidated input
// is unspecified.
func MapToUnified(r domain.VendorReservation, opts MapOptions) domain.CanonicalBooking {
	version := opts.Version
	if version == "" {
		version = DefaultSchemaVersion
	}

	checkIn, _ := parseVendorTime(r.Dates.CheckIn)
	checkOut, _ := parseVendorTime(r.Dates.CheckOut)
	bookedAt, _ := parseVendorTime(r.Dates.CreatedAt)
	checkIn = dateOnly(checkIn)
	checkOut = dateOnly(checkOut)

	b := domain.CanonicalBooking{
		ExternalID:    r.ReservationID,
		Source:        sourceTag,
		PropertyID:    r.PropertyID,
		GuestName:     r.Guest.Name,
		GuestEmail:    r.Guest.Email,
		GuestPhone:    r.Guest.Phone,
		GuestCountry:  r.Guest.Country,
		RoomNumber:    r.Room.Number,
		RoomType:      MapRoomType(r.Room.Type),
		CheckIn:       checkIn,
		CheckOut:      checkOut,
		BookedAt:      bookedAt,
		TotalAmount:   r.Pricing.Total,
		Currency:      r.Pricing.Currency,
		Status:        MapStatus(r.Status),
		Channel:       MapChannel(r.Channel),
		PaymentMethod: r.PaymentMethod,
		LeadTimeDays:  CalculateLeadTime(bookedAt, checkIn),
		StayNights:    CalculateLengthOfStay(checkIn, checkOut),
		SyncedAt:      time.Now().UTC(),
		SchemaVersion: version,
	}
	if !opts.SuppressID {
		b.ID = uuid.NewString()
	}
	if opts.IncludeRawData {
		raw, err := json.Marshal(r)
		if err != nil {
			log.Error().Err(err).Str("context", "MapToUnified").Msg("failed to marshal raw vendor record")
		} else {
			b.Raw = raw
		}
	}
	return b
}

/********** validation **********/

// ValidationResult lists every violated rule found in one pass.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Validate checks the business rules a vendor record must satisfy before
// mapping. It never short-circuits: a record missing N fields reports N errors.
func Validate(r domain.VendorReservation) ValidationResult {
	var errs []string

	if strings.TrimSpace(r.ReservationID) == "" {
		errs = append(errs, "missing reservation_id")
	}
	if strings.TrimSpace(r.PropertyID) == "" {
		errs = append(errs, "missing property_id")
	}
	if strings.TrimSpace(r.Guest.Name) == "" {
		errs = append(errs, "missing guest name")
	}
	if strings.TrimSpace(r.Room.Type) == "" {
		errs = append(errs, "missing room type")
	}
	if strings.TrimSpace(r.Room.Number) == "" {
		errs = append(errs, "missing room number")
	}

	checkIn, inOK := parseVendorTime(r.Dates.CheckIn)
	checkOut, outOK := parseVendorTime(r.Dates.CheckOut)
	if !inOK {
		errs = append(errs, "missing or invalid check_in date")
	}
	if !outOK {
		errs = append(errs, "missing or invalid check_out date")
	}
	if _, ok := parseVendorTime(r.Dates.CreatedAt); !ok {
		errs = append(errs, "missing or invalid created_at date")
	}
	if inOK && outOK && !dateOnly(checkOut).After(dateOnly(checkIn)) {
		errs = append(errs, fmt.Sprintf("check_out %s must be after check_in %s", r.Dates.CheckOut, r.Dates.CheckIn))
	}
	if r.Pricing.Total < 0 {
		errs = append(errs, "negative total amount")
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

/********** sanitization **********/

const (
	maskedEmail = "***@***.***"
	maskedPhone = "***-***-****"
	maskedName  = "REDACTED"
)

// SanitizeOptions selects which PII fields to mask.
type SanitizeOptions struct {
	MaskEmail bool
	MaskPhone bool
	MaskName  bool
}

// Sanitize returns a copy with the requested PII replaced by fixed
// placeholders and the embedded raw payload always stripped. The input is
// never mutated.
func Sanitize(b domain.CanonicalBooking, opts SanitizeOptions) domain.CanonicalBooking {
	out := b
	out.Raw = nil
	if opts.MaskEmail && out.GuestEmail != nil {
		masked := maskedEmail
		out.GuestEmail = &masked
	}
	if opts.MaskPhone && out.GuestPhone != nil {
		masked := maskedPhone
		out.GuestPhone = &masked
	}
	if opts.MaskName {
		out.GuestName = maskedName
	}
	return out
}
