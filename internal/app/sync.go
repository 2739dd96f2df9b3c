package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"pmsync/internal/domain"
)

// SyncOptions carries the caller-supplied hooks for one sync pass. When
// OnBatchComplete is nil, each mapped booking is written to the sink directly.
type SyncOptions struct {
	MaxPages        int
	OnBatchComplete func(ctx context.Context, batch []domain.CanonicalBooking) error
	OnReservation   func(r domain.VendorReservation)
	OnError         func(err error)
}

type SyncService struct {
	pms        domain.PMSClient
	cursors    domain.CursorStore
	sink       domain.BookingSink
	propertyID string
	mapOpts    MapOptions
	now        func() time.Time
}

func NewSyncService(pms domain.PMSClient, cursors domain.CursorStore, sink domain.BookingSink, propertyID string, mapOpts MapOptions) *SyncService {
	return &SyncService{
		pms:        pms,
		cursors:    cursors,
		sink:       sink,
		propertyID: propertyID,
		mapOpts:    mapOpts,
		now:        time.Now,
	}
}

// WithClock overrides the service clock. Tests only.
func (s *SyncService) WithClock(now func() time.Time) *SyncService {
	s.now = now
	return s
}

// PerformIncrementalSync runs one polling pass: read the cursor (absent means
// full sync), fetch matching reservations page by page, validate and map each
// record, hand batches to OnBatchComplete or the sink, and advance the cursor
// only when the pass succeeded end to end. It never returns an error to the
// caller; failures land in the result and in OnError.
func (s *SyncService) PerformIncrementalSync(ctx context.Context, opts SyncOptions) domain.SyncResult {
	res := domain.SyncResult{StartedAt: s.now().UTC()}
	fail := func(err error) {
		res.Errors = append(res.Errors, err.Error())
		if opts.OnError != nil {
			opts.OnError(err)
		}
	}

	since, err := s.cursors.LastSyncTime(ctx, s.propertyID)
	if err != nil {
		// A broken cursor read degrades to a full sync rather than skipping
		// the pass; records are upserted so replays are harmless.
		log.Warn().Err(err).Str("property", s.propertyID).Msg("cursor read failed, falling back to full sync")
		res.Errors = append(res.Errors, fmt.Sprintf("cursor read: %v", err))
		since = nil
	}
	if since == nil {
		log.Info().Str("property", s.propertyID).Msg("no cursor stored, performing full sync")
	}

	onPage := func(page []domain.VendorReservation) {
		res.RecordsProcessed += len(page)

		batch := make([]domain.CanonicalBooking, 0, len(page))
		for _, r := range page {
			if v := Validate(r); !v.Valid {
				res.RecordsFailed++
				fail(&domain.ValidationError{Reasons: v.Errors})
				continue
			}
			batch = append(batch, s.mapRecord(r))
		}

		if opts.OnBatchComplete != nil {
			if err := opts.OnBatchComplete(ctx, batch); err != nil {
				// The page still counts as processed; its records count as failed.
				res.RecordsFailed += len(batch)
				fail(fmt.Errorf("batch callback: %w", err))
			} else {
				res.RecordsSaved += len(batch)
			}
			return
		}

		for _, b := range batch {
			if err := s.sink.UpsertBooking(ctx, b); err != nil {
				res.RecordsFailed++
				fail(fmt.Errorf("save booking %s: %w", b.ExternalID, err))
				continue
			}
			res.RecordsSaved++
		}
	}

	_, err = s.pms.FetchAllReservations(ctx, domain.FetchAllOptions{
		UpdatedSince:  since,
		MaxPages:      opts.MaxPages,
		OnReservation: opts.OnReservation,
		OnPage:        onPage,
	})
	if err != nil {
		// Top-level transport failure: cursor stays put so the next pass
		// re-covers the same window.
		fail(err)
		res.FinishedAt = s.now().UTC()
		return res
	}

	res.Success = true
	if err := s.cursors.SetLastSyncTime(ctx, s.propertyID, s.now().UTC()); err != nil {
		res.Success = false
		fail(fmt.Errorf("advance cursor: %w", err))
	}
	res.FinishedAt = s.now().UTC()

	log.Info().
		Str("property", s.propertyID).
		Int("processed", res.RecordsProcessed).
		Int("saved", res.RecordsSaved).
		Int("failed", res.RecordsFailed).
		Bool("success", res.Success).
		Msg("incremental sync finished")
	return res
}

// HandleEvent normalizes and stores the reservation carried by a webhook
// event. It is wired as the gateway's dispatch target.
func (s *SyncService) HandleEvent(ctx context.Context, ev domain.WebhookEvent) error {
	if v := Validate(ev.Data); !v.Valid {
		return &domain.ValidationError{Reasons: v.Errors}
	}
	return s.sink.UpsertBooking(ctx, s.mapRecord(ev.Data))
}

// mapRecord maps one validated record, logging unknown vendor enum values so
// silent defaulting doesn't hide data-quality drift.
func (s *SyncService) mapRecord(r domain.VendorReservation) domain.CanonicalBooking {
	if _, ok := MapStatusKnown(r.Status); !ok {
		log.Warn().Str("property", s.propertyID).Str("reservation", r.ReservationID).
			Str("status", r.Status).Msg("unknown vendor status, defaulting to confirmed")
	}
	if _, ok := MapChannelKnown(r.Channel); !ok {
		log.Warn().Str("property", s.propertyID).Str("reservation", r.ReservationID).
			Str("channel", r.Channel).Msg("unknown vendor channel, defaulting to other")
	}
	return MapToUnified(r, s.mapOpts)
}
