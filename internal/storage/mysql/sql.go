package mysql

// The unique key is (property_id, external_id); id keeps the first writer's
// generated value so both delivery paths converge on one row.
const upsertBookingSQL = `
INSERT INTO bookings
  (id, external_id, source, property_id,
   guest_name, guest_email, guest_phone, guest_country,
   room_number, room_type,
   check_in, check_out, booked_at,
   total_amount, currency, status, channel, payment_method,
   lead_time_days, length_of_stay_nights,
   synced_at, schema_version, raw)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  source                = VALUES(source),
  guest_name            = VALUES(guest_name),
  guest_email           = VALUES(guest_email),
  guest_phone           = VALUES(guest_phone),
  guest_country         = VALUES(guest_country),
  room_number           = VALUES(room_number),
  room_type             = VALUES(room_type),
  check_in              = VALUES(check_in),
  check_out             = VALUES(check_out),
  booked_at             = VALUES(booked_at),
  total_amount          = VALUES(total_amount),
  currency              = VALUES(currency),
  status                = VALUES(status),
  channel               = VALUES(channel),
  payment_method        = VALUES(payment_method),
  lead_time_days        = VALUES(lead_time_days),
  length_of_stay_nights = VALUES(length_of_stay_nights),
  synced_at             = VALUES(synced_at),
  schema_version        = VALUES(schema_version),
  raw                   = COALESCE(VALUES(raw), bookings.raw)
`

const bookingColumns = `
  id, external_id, source, property_id,
  guest_name, guest_email, guest_phone, guest_country,
  room_number, room_type,
  check_in, check_out, booked_at,
  total_amount, currency, status, channel, payment_method,
  lead_time_days, length_of_stay_nights,
  synced_at, schema_version, raw`

const getBookingSQL = `
SELECT` + bookingColumns + `
FROM bookings
WHERE property_id = ? AND external_id = ?
`

const listBookingsSQL = `
SELECT` + bookingColumns + `
FROM bookings
WHERE property_id = ?
ORDER BY synced_at DESC, external_id DESC
LIMIT ?
`

const insertSyncRunSQL = `
INSERT INTO sync_runs
  (property_id, success, records_processed, records_saved, records_failed, started_at, finished_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?)
`
