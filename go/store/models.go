// Package store implements the Image Store (C1) and Reading Store (C2)
// facades over the data model of spec.md §3. The relational engine itself
// is an external collaborator (spec.md §1); this package only talks to it
// through github.com/jackc/pgx/v4, the same driver the teacher's
// go/materialize/driver/sql/postgres.go uses for its materialization
// connections.
package store

import "time"

// QueueStatus is the MessageQueue state machine of spec.md §3.
type QueueStatus string

const (
	StatusPending QueueStatus = "PENDING"
	StatusSending QueueStatus = "SENDING"
	StatusSuccess QueueStatus = "SUCCESS"
	StatusFailed  QueueStatus = "FAILED"
	StatusDead    QueueStatus = "DEAD"
)

// Municipality owns at most one Certificate and one Endpoint (spec.md §3,
// §9: "Cyclic relationships ... should be modeled as owning one direction").
type Municipality struct {
	ID            int64
	Name          string
	Code          string
	EndpointRef   *int64
	CertificateRef *int64
	Active        bool
}

// Endpoint is a downstream SOAP target with per-endpoint retry tuning.
type Endpoint struct {
	ID             int64
	Name           string
	URL            string
	TimeoutMS      int
	RetryMax       int
	RetryBackoffMS int
}

// DefaultEndpoint returns the fallback tuning of spec.md §3 (retry_max 3,
// backoff 1000 ms, timeout 5000 ms). The Sender does not call it: its
// fallback values come from config.Sender, and a missing URL is always
// ConfigurationError/DEAD.
func DefaultEndpoint() Endpoint {
	return Endpoint{RetryMax: 3, RetryBackoffMS: 1000, TimeoutMS: 5000}
}

// Certificate holds PEM material. ClientCertPath contains the client
// certificate optionally followed by the CA chain; KeyPath is an
// unencrypted PEM private key whose modulus must match the first
// certificate in ClientCertPath (invariant enforced at provisioning, out
// of scope for the core per spec.md §1).
type Certificate struct {
	ID              int64
	MunicipalityRef int64
	Alias           string
	ClientCertPath  string
	KeyPath         string
	Active          bool
}

// Camera is uniquely identified by SerialNumber (the wire device_sn /
// SerialNumber / IdDevice), distinct from CodigoLector (the opaque
// downstream identifier). CoordX/CoordY are UTM31N-ETRS89 preserved as
// text with exactly two decimals (spec.md §3 invariant
// `^-?\d{1,8}\.\d{2}$`). UTMX/UTMY are the legacy float pair kept for
// compatibility (SPEC_FULL.md "Supplemented features").
type Camera struct {
	ID              int64
	SerialNumber    string
	CodigoLector    string
	MunicipalityRef int64
	EndpointRef     *int64
	CertificateRef  *int64
	CoordX          *string
	CoordY          *string
	UTMX            *float64
	UTMY            *float64
	Active          bool
	LastSentAt      *time.Time
}

// BBox is the OCR bounding box, in source pixel coordinates.
type BBox struct {
	MinX, MinY, MaxX, MaxY *int
}

// AlprReading is one plate-detection event (spec.md §3). It is never
// mutated after creation; it is deleted only by success-purge.
type AlprReading struct {
	ID            int64
	CameraRef     int64
	DeviceSN      string
	Plate         string
	TimestampUTC  time.Time
	Direction     *string
	LaneID        *int
	LaneDescr     *string
	OCRScore      *int
	CountryCode   *string
	Country       *string
	BBox          BBox
	CharHeight    *int
	HasImageOCR   bool
	HasImageCTX   bool
	ImageOCRPath  *string
	ImageCTXPath  *string
	RawXML        *string
	CreatedAt     time.Time
}

// MessageQueue is the one-to-one durable queue row for a reading.
type MessageQueue struct {
	ID          int64
	ReadingRef  int64
	Status      QueueStatus
	Attempts    int
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	SentAt      *time.Time
	LastSentAt  *time.Time
	NextRetryAt *time.Time
}

// NormalizedReading is the canonical, store-agnostic representation the
// Normalizer (C7) produces and the Reading Store persists. Images travel
// alongside as raw bytes (already base64-decoded) rather than paths, so
// that SaveReading can perform the Image Store write itself.
type NormalizedReading struct {
	CameraSerial string
	DeviceSN     string
	Plate        string
	TimestampUTC time.Time
	Direction    *string
	LaneID       *int
	LaneDescr    *string
	OCRScore     *int
	CountryCode  *string
	Country      *string
	BBox         BBox
	CharHeight   *int
	RawXML       *string
	ImageOCR     []byte
	ImageCTX     []byte
}
