package store

// Schema is the DDL for the tables of spec.md §3. The relational engine
// is an external collaborator (spec.md §1); this is provided so a fresh
// deployment can be bootstrapped the same way the teacher's
// ExecApplyStatements runs a sequence of DDL statements against a pool
// (go/materialize/driver/sql/postgres.go), rather than because schema
// migration is in scope for the core.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS municipalities (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT,
		endpoint_id INTEGER,
		certificate_id INTEGER,
		active BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE TABLE IF NOT EXISTS endpoints (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		timeout_ms INTEGER NOT NULL DEFAULT 5000,
		retry_max INTEGER NOT NULL DEFAULT 3,
		retry_backoff_ms INTEGER NOT NULL DEFAULT 1000
	)`,
	`CREATE TABLE IF NOT EXISTS certificates (
		id SERIAL PRIMARY KEY,
		municipality_id INTEGER NOT NULL REFERENCES municipalities(id),
		alias TEXT NOT NULL,
		client_cert_path TEXT NOT NULL,
		key_path TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE TABLE IF NOT EXISTS cameras (
		id SERIAL PRIMARY KEY,
		serial_number TEXT NOT NULL UNIQUE,
		codigo_lector TEXT NOT NULL,
		municipality_id INTEGER NOT NULL REFERENCES municipalities(id),
		endpoint_id INTEGER,
		certificate_id INTEGER,
		coord_x TEXT,
		coord_y TEXT,
		utm_x DOUBLE PRECISION,
		utm_y DOUBLE PRECISION,
		active BOOLEAN NOT NULL DEFAULT true,
		last_sent_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS alpr_readings (
		id BIGSERIAL PRIMARY KEY,
		camera_id INTEGER NOT NULL REFERENCES cameras(id),
		device_sn TEXT,
		plate TEXT,
		timestamp_utc TIMESTAMPTZ,
		direction TEXT,
		lane_id INTEGER,
		lane_descr TEXT,
		ocr_score INTEGER,
		country_code TEXT,
		country TEXT,
		bbox_min_x INTEGER,
		bbox_min_y INTEGER,
		bbox_max_x INTEGER,
		bbox_max_y INTEGER,
		char_height INTEGER,
		has_image_ocr BOOLEAN NOT NULL DEFAULT false,
		has_image_ctx BOOLEAN NOT NULL DEFAULT false,
		image_ocr_path TEXT,
		image_ctx_path TEXT,
		raw_xml TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS messages_queue (
		id BIGSERIAL PRIMARY KEY,
		reading_id BIGINT NOT NULL REFERENCES alpr_readings(id),
		status TEXT NOT NULL DEFAULT 'PENDING',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		sent_at TIMESTAMPTZ,
		last_sent_at TIMESTAMPTZ,
		next_retry_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_queue_status ON messages_queue (status, next_retry_at, created_at)`,
}
