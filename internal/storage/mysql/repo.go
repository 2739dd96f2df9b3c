package mysql

import (
	"context"
	"database/sql"

	"pmsync/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func valJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func scanStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// UpsertBooking writes one canonical booking, keyed by (property_id,
// external_id) so webhook and polling deliveries of the same reservation
// converge on a single row. The generated id of the first write wins.
func (r *Repo) UpsertBooking(ctx context.Context, b domain.CanonicalBooking) error {
	_, err := r.db.ExecContext(ctx, upsertBookingSQL,
		b.ID,
		b.ExternalID,
		b.Source,
		b.PropertyID,
		b.GuestName,
		valStr(b.GuestEmail),
		valStr(b.GuestPhone),
		valStr(b.GuestCountry),
		b.RoomNumber,
		b.RoomType,
		b.CheckIn,
		b.CheckOut,
		b.BookedAt,
		b.TotalAmount,
		b.Currency,
		string(b.Status),
		string(b.Channel),
		valStr(b.PaymentMethod),
		b.LeadTimeDays,
		b.StayNights,
		b.SyncedAt,
		b.SchemaVersion,
		valJSON(b.Raw),
	)
	return err
}

func (r *Repo) GetBooking(ctx context.Context, propertyID, externalID string) (domain.CanonicalBooking, error) {
	row := r.db.QueryRowContext(ctx, getBookingSQL, propertyID, externalID)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return domain.CanonicalBooking{}, domain.ErrNotFound
	}
	return b, err
}

func (r *Repo) ListRecentBookings(ctx context.Context, propertyID string, limit int) ([]domain.CanonicalBooking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, listBookingsSQL, propertyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CanonicalBooking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LogSyncRun keeps an audit row per incremental pass.
func (r *Repo) LogSyncRun(ctx context.Context, propertyID string, res domain.SyncResult) error {
	_, err := r.db.ExecContext(ctx, insertSyncRunSQL,
		propertyID,
		res.Success,
		res.RecordsProcessed,
		res.RecordsSaved,
		res.RecordsFailed,
		res.StartedAt,
		res.FinishedAt,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (domain.CanonicalBooking, error) {
	var b domain.CanonicalBooking
	var (
		email, phone, country, payment sql.NullString
		raw                            sql.NullString
		status, channel                string
	)
	if err := row.Scan(
		&b.ID,
		&b.ExternalID,
		&b.Source,
		&b.PropertyID,
		&b.GuestName,
		&email,
		&phone,
		&country,
		&b.RoomNumber,
		&b.RoomType,
		&b.CheckIn,
		&b.CheckOut,
		&b.BookedAt,
		&b.TotalAmount,
		&b.Currency,
		&status,
		&channel,
		&payment,
		&b.LeadTimeDays,
		&b.StayNights,
		&b.SyncedAt,
		&b.SchemaVersion,
		&raw,
	); err != nil {
		return domain.CanonicalBooking{}, err
	}
	b.GuestEmail = scanStr(email)
	b.GuestPhone = scanStr(phone)
	b.GuestCountry = scanStr(country)
	b.PaymentMethod = scanStr(payment)
	b.Status = domain.BookingStatus(status)
	b.Channel = domain.BookingChannel(channel)
	if raw.Valid && raw.String != "" {
		b.Raw = []byte(raw.String)
	}
	return b, nil
}
