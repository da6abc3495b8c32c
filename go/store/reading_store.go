package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// PgTxOptions mirrors the teacher's go/materialize/driver/sql/postgres.go
// choice of an explicit, named isolation level for every transaction
// rather than relying on the driver default.
var PgTxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// ReadingStore is the transactional façade of C2, backed by Postgres via
// pgxpool — the same connection-pool type the teacher's postgres.go uses
// for materialization connections.
type ReadingStore struct {
	pool   *pgxpool.Pool
	images *ImageStore
}

// NewReadingStore connects to dsn and returns a ReadingStore that writes
// images through images.
func NewReadingStore(ctx context.Context, dsn string, images *ImageStore) (*ReadingStore, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to reading store: %w", err)
	}
	return &ReadingStore{pool: pool, images: images}, nil
}

// Close releases the underlying connection pool.
func (s *ReadingStore) Close() { s.pool.Close() }

// SaveReading implements spec.md §4.2's save_reading: within one
// transaction, resolve the camera, create the AlprReading (writing images
// through the Image Store — failures flag has_image_*=false and null the
// path, they do not fail the transaction), create the MessageQueue row in
// PENDING with attempts=0. Rejects with ErrUnknownCamera, persisting
// nothing, if serial_number is not registered.
func (s *ReadingStore) SaveReading(ctx context.Context, r NormalizedReading) (readingID, queueID int64, err error) {
	tx, err := s.pool.BeginTx(ctx, PgTxOptions)
	if err != nil {
		return 0, 0, fmt.Errorf("begin save_reading tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var cameraID int64
	row := tx.QueryRow(ctx, `SELECT id FROM cameras WHERE serial_number = $1`, r.CameraSerial)
	if scanErr := row.Scan(&cameraID); scanErr != nil {
		if scanErr == pgx.ErrNoRows {
			return 0, 0, ErrUnknownCamera
		}
		return 0, 0, fmt.Errorf("resolving camera %s: %w", r.CameraSerial, scanErr)
	}

	var ocrPath, ctxPath *string
	hasOCR, hasCTX := false, false
	if len(r.ImageOCR) > 0 {
		if rel, saveErr := s.images.Save(r.DeviceSN, r.Plate, r.TimestampUTC, ImageOCR, r.ImageOCR); saveErr == nil {
			ocrPath = &rel
			hasOCR = true
		}
	}
	if len(r.ImageCTX) > 0 {
		if rel, saveErr := s.images.Save(r.DeviceSN, r.Plate, r.TimestampUTC, ImageCTX, r.ImageCTX); saveErr == nil {
			ctxPath = &rel
			hasCTX = true
		}
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO alpr_readings (
			camera_id, device_sn, plate, timestamp_utc, direction, lane_id, lane_descr,
			ocr_score, country_code, country, bbox_min_x, bbox_min_y, bbox_max_x, bbox_max_y,
			char_height, has_image_ocr, has_image_ctx, image_ocr_path, image_ctx_path, raw_xml, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		RETURNING id`,
		cameraID, r.DeviceSN, r.Plate, r.TimestampUTC, r.Direction, r.LaneID, r.LaneDescr,
		r.OCRScore, r.CountryCode, r.Country, r.BBox.MinX, r.BBox.MinY, r.BBox.MaxX, r.BBox.MaxY,
		r.CharHeight, hasOCR, hasCTX, ocrPath, ctxPath, r.RawXML, time.Now().UTC(),
	).Scan(&readingID)
	if err != nil {
		return 0, 0, fmt.Errorf("inserting alpr_reading: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO messages_queue (reading_id, status, attempts, created_at, updated_at)
		VALUES ($1, $2, 0, now(), now())
		RETURNING id`, readingID, StatusPending).Scan(&queueID)
	if err != nil {
		return 0, 0, fmt.Errorf("inserting messages_queue row: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("committing save_reading tx: %w", err)
	}
	return readingID, queueID, nil
}

// QueueRow is a claimed candidate row. It carries only queue fields and the
// reading id; the Sender loads the reading and its routing separately via
// LoadReadingAndRoute.
type QueueRow struct {
	QueueID   int64
	ReadingID int64
	Status    QueueStatus
	Attempts  int
	CreatedAt time.Time
}

// ClaimPending implements spec.md §4.2's claim_pending: advisory selection
// only, ordered by created_at, limited to at most limit rows.
func (s *ReadingStore) ClaimPending(ctx context.Context, limit int) ([]QueueRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, reading_id, status, attempts, created_at
		FROM messages_queue
		WHERE status IN ('PENDING', 'FAILED')
		  AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim_pending query: %w", err)
	}
	defer rows.Close()

	var out []QueueRow
	for rows.Next() {
		var q QueueRow
		if err := rows.Scan(&q.QueueID, &q.ReadingID, &q.Status, &q.Attempts, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning claim_pending row: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// MarkSending performs the CAS-like transition to SENDING; this is the
// real claim (spec.md §4.2). Returns ErrNotClaimed if the row was not in
// {PENDING, FAILED} at the time of the update.
func (s *ReadingStore) MarkSending(ctx context.Context, queueID int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages_queue SET status = $1, updated_at = now()
		WHERE id = $2 AND status IN ('PENDING', 'FAILED')`, StatusSending, queueID)
	if err != nil {
		return fmt.Errorf("mark_sending %d: %w", queueID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimed
	}
	return nil
}

// ReadingAndRoute is the joined data the Sender needs to build and route a
// request for a single queue row.
type ReadingAndRoute struct {
	Reading      AlprReading
	Camera       Camera
	Municipality Municipality
}

// LoadReadingAndRoute resolves the reading, its camera, and its
// municipality for a queue row.
func (s *ReadingStore) LoadReadingAndRoute(ctx context.Context, queueID int64) (*ReadingAndRoute, error) {
	var out ReadingAndRoute
	row := s.pool.QueryRow(ctx, `
		SELECT r.id, r.camera_id, r.device_sn, r.plate, r.timestamp_utc, r.direction, r.lane_id,
		       r.lane_descr, r.ocr_score, r.country_code, r.country,
		       r.bbox_min_x, r.bbox_min_y, r.bbox_max_x, r.bbox_max_y, r.char_height,
		       r.has_image_ocr, r.has_image_ctx, r.image_ocr_path, r.image_ctx_path, r.raw_xml, r.created_at,
		       c.id, c.serial_number, c.codigo_lector, c.municipality_id, c.endpoint_id, c.certificate_id,
		       c.coord_x, c.coord_y, c.utm_x, c.utm_y, c.active, c.last_sent_at,
		       m.id, m.name, m.code, m.endpoint_id, m.certificate_id, m.active
		FROM messages_queue q
		JOIN alpr_readings r ON r.id = q.reading_id
		JOIN cameras c ON c.id = r.camera_id
		JOIN municipalities m ON m.id = c.municipality_id
		WHERE q.id = $1`, queueID)

	err := row.Scan(
		&out.Reading.ID, &out.Reading.CameraRef, &out.Reading.DeviceSN, &out.Reading.Plate, &out.Reading.TimestampUTC,
		&out.Reading.Direction, &out.Reading.LaneID, &out.Reading.LaneDescr, &out.Reading.OCRScore,
		&out.Reading.CountryCode, &out.Reading.Country,
		&out.Reading.BBox.MinX, &out.Reading.BBox.MinY, &out.Reading.BBox.MaxX, &out.Reading.BBox.MaxY,
		&out.Reading.CharHeight, &out.Reading.HasImageOCR, &out.Reading.HasImageCTX,
		&out.Reading.ImageOCRPath, &out.Reading.ImageCTXPath, &out.Reading.RawXML, &out.Reading.CreatedAt,
		&out.Camera.ID, &out.Camera.SerialNumber, &out.Camera.CodigoLector, &out.Camera.MunicipalityRef,
		&out.Camera.EndpointRef, &out.Camera.CertificateRef, &out.Camera.CoordX, &out.Camera.CoordY,
		&out.Camera.UTMX, &out.Camera.UTMY, &out.Camera.Active, &out.Camera.LastSentAt,
		&out.Municipality.ID, &out.Municipality.Name, &out.Municipality.Code,
		&out.Municipality.EndpointRef, &out.Municipality.CertificateRef, &out.Municipality.Active,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading route for queue %d: %w", queueID, err)
	}
	return &out, nil
}

// GetEndpoint loads an Endpoint by id.
func (s *ReadingStore) GetEndpoint(ctx context.Context, id int64) (*Endpoint, error) {
	var e Endpoint
	err := s.pool.QueryRow(ctx, `SELECT id, name, url, timeout_ms, retry_max, retry_backoff_ms FROM endpoints WHERE id = $1`, id).
		Scan(&e.ID, &e.Name, &e.URL, &e.TimeoutMS, &e.RetryMax, &e.RetryBackoffMS)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading endpoint %d: %w", id, err)
	}
	return &e, nil
}

// GetCertificate loads a Certificate by id.
func (s *ReadingStore) GetCertificate(ctx context.Context, id int64) (*Certificate, error) {
	var c Certificate
	err := s.pool.QueryRow(ctx, `SELECT id, municipality_id, alias, client_cert_path, key_path, active FROM certificates WHERE id = $1`, id).
		Scan(&c.ID, &c.MunicipalityRef, &c.Alias, &c.ClientCertPath, &c.KeyPath, &c.Active)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading certificate %d: %w", id, err)
	}
	return &c, nil
}

// MarkSuccessAndPurge implements spec.md §4.2's mark_success_and_purge:
// one transaction bumps the camera's last_sent_at and deletes the queue row
// and the reading row (the queue row is deleted outright, so no SUCCESS
// status or sent_at is ever written); after that commit, both image files
// are deleted.
func (s *ReadingStore) MarkSuccessAndPurge(ctx context.Context, queueID, readingID, cameraID int64, ocrPath, ctxPath *string) error {
	tx, err := s.pool.BeginTx(ctx, PgTxOptions)
	if err != nil {
		return fmt.Errorf("begin mark_success_and_purge tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	now := time.Now().UTC()
	if _, err = tx.Exec(ctx, `UPDATE cameras SET last_sent_at = $1 WHERE id = $2`, now, cameraID); err != nil {
		return fmt.Errorf("updating camera last_sent_at: %w", err)
	}
	if _, err = tx.Exec(ctx, `DELETE FROM messages_queue WHERE id = $1`, queueID); err != nil {
		return fmt.Errorf("deleting messages_queue row %d: %w", queueID, err)
	}
	if _, err = tx.Exec(ctx, `DELETE FROM alpr_readings WHERE id = $1`, readingID); err != nil {
		return fmt.Errorf("deleting alpr_reading %d: %w", readingID, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing mark_success_and_purge tx: %w", err)
	}
	committed = true

	// Image deletion is filesystem-only and idempotent; it happens after
	// the durable-state commit so a crash here never leaves the DB
	// pointing at deleted state.
	if ocrPath != nil {
		_ = s.images.Delete(*ocrPath)
	}
	if ctxPath != nil {
		_ = s.images.Delete(*ctxPath)
	}
	return nil
}

// MarkFailed records a transient failure: increments attempts, sets
// last_error and next_retry_at, status FAILED.
func (s *ReadingStore) MarkFailed(ctx context.Context, queueID int64, errMsg string, nextRetryAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE messages_queue
		SET status = $1, attempts = attempts + 1, last_error = $2, next_retry_at = $3, updated_at = now()
		WHERE id = $4`, StatusFailed, errMsg, nextRetryAt, queueID)
	if err != nil {
		return fmt.Errorf("mark_failed %d: %w", queueID, err)
	}
	return nil
}

// MarkDead records a terminal failure: increments attempts, sets
// last_error, status DEAD. The row, its reading and its image files are
// kept; no janitor sweep deletes DEAD rows or files under the image root.
func (s *ReadingStore) MarkDead(ctx context.Context, queueID int64, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE messages_queue
		SET status = $1, attempts = attempts + 1, last_error = $2, updated_at = now()
		WHERE id = $3`, StatusDead, errMsg, queueID)
	if err != nil {
		return fmt.Errorf("mark_dead %d: %w", queueID, err)
	}
	return nil
}

// HealthCounts backs the /health endpoint of spec.md §6.
type HealthCounts struct {
	Pending int64
	Failed  int64
	Dead    int64
	Total   int64
}

// CountsByStatus returns the queue depth per status plus the total
// reading count, for /health.
func (s *ReadingStore) CountsByStatus(ctx context.Context) (HealthCounts, error) {
	var c HealthCounts
	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'PENDING' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'FAILED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'DEAD' THEN 1 ELSE 0 END), 0)
		FROM messages_queue`).Scan(&c.Pending, &c.Failed, &c.Dead)
	if err != nil {
		return c, fmt.Errorf("counting queue status: %w", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM alpr_readings`).Scan(&c.Total); err != nil {
		return c, fmt.Errorf("counting readings: %w", err)
	}
	return c, nil
}
