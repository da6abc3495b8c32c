// Package normalize implements C7: Tattile XML ⟷ canonical reading ⟷
// Lector Vision JSON, grounded on original_source/app/ingest/parser.py
// and original_source/app/ingest/lectorvision.py. Per spec.md §9's design
// note, the dynamic per-field mappings are expressed as static descriptor
// tables rather than inline branching.
package normalize

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Lasarikoo/TattileSender/go/store"
)

// ErrParse is returned for malformed or incomplete wire payloads
// (spec.md §7's ParseError).
type ErrParse struct{ Msg string }

func (e *ErrParse) Error() string { return e.Msg }

func parseErrorf(format string, args ...any) error {
	return &ErrParse{Msg: fmt.Sprintf(format, args...)}
}

// tattileDoc mirrors the flat, untyped element bag Tattile cameras emit
// (original_source/app/ingest/parser.py reads each tag independently via
// ElementTree.find, not a fixed schema) — encoding/xml unmarshal into a
// struct with matching field tags gives the same flexibility.
type tattileDoc struct {
	XMLName          xml.Name `xml:"root"`
	PlateString      string   `xml:"PLATE_STRING"`
	DeviceSN         string   `xml:"DEVICE_SN"`
	Date             string   `xml:"DATE"`
	Time             string   `xml:"TIME"`
	Direction        string   `xml:"DIRECTION"`
	LaneID           string   `xml:"LANE_ID"`
	LaneDescr        string   `xml:"LANE_DESCR"`
	OCRScore         string   `xml:"OCRSCORE"`
	PlateCountryCode string   `xml:"PLATE_COUNTRY_CODE"`
	PlateCountry     string   `xml:"PLATE_COUNTRY"`
	MinX             string   `xml:"ORIG_PLATE_MIN_X"`
	MinY             string   `xml:"ORIG_PLATE_MIN_Y"`
	MaxX             string   `xml:"ORIG_PLATE_MAX_X"`
	MaxY             string   `xml:"ORIG_PLATE_MAX_Y"`
	CharHeight       string   `xml:"CHAR_HEIGHT"`
	PlateCharHeight  string   `xml:"PLATE_CHAR_HEIGHT"`
	ImageOCR         string   `xml:"IMAGE_OCR"`
	ImageCTX         string   `xml:"IMAGE_CTX"`
}

func optInt(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func optStr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// ParseTattileXML implements spec.md §4.7's Tattile-XML-to-canonical-reading
// mapping. PLATE_STRING and DEVICE_SN are required; DATE/TIME combine into
// a UTC timestamp (ms -> µs x1000), defaulting to now(UTC) if either is
// absent.
func ParseTattileXML(raw string) (store.NormalizedReading, error) {
	var doc tattileDoc
	if err := xml.Unmarshal([]byte(raw), &doc); err != nil {
		return store.NormalizedReading{}, parseErrorf("invalid Tattile XML: %v", err)
	}

	plate := strings.TrimSpace(doc.PlateString)
	deviceSN := strings.TrimSpace(doc.DeviceSN)
	if plate == "" {
		return store.NormalizedReading{}, parseErrorf("required field PLATE_STRING missing or empty")
	}
	if deviceSN == "" {
		return store.NormalizedReading{}, parseErrorf("required field DEVICE_SN missing or empty")
	}

	ts := combineTattileTimestamp(doc.Date, doc.Time)

	charHeight := optInt(doc.CharHeight)
	if charHeight == nil {
		charHeight = optInt(doc.PlateCharHeight)
	}

	rawCopy := raw
	r := store.NormalizedReading{
		CameraSerial: deviceSN,
		DeviceSN:     deviceSN,
		Plate:        plate,
		TimestampUTC: ts,
		Direction:    optStr(doc.Direction),
		LaneID:       optInt(doc.LaneID),
		LaneDescr:    optStr(doc.LaneDescr),
		OCRScore:     optInt(doc.OCRScore),
		CountryCode:  optStr(doc.PlateCountryCode),
		Country:      optStr(doc.PlateCountry),
		BBox: store.BBox{
			MinX: optInt(doc.MinX),
			MinY: optInt(doc.MinY),
			MaxX: optInt(doc.MaxX),
			MaxY: optInt(doc.MaxY),
		},
		CharHeight: charHeight,
		RawXML:     &rawCopy,
	}

	if img, err := decodeImageField(doc.ImageOCR); err == nil {
		r.ImageOCR = img
	}
	if img, err := decodeImageField(doc.ImageCTX); err == nil {
		r.ImageCTX = img
	}

	return r, nil
}

// combineTattileTimestamp mirrors parser.py's DATE=YYYY-MM-DD /
// TIME=HH-MM-SS-mmm combination; absent fields fall back to now(UTC)
// (spec.md §4.7, §8 boundary case).
func combineTattileTimestamp(dateStr, timeStr string) time.Time {
	dateStr = strings.TrimSpace(dateStr)
	timeStr = strings.TrimSpace(timeStr)
	if dateStr == "" || timeStr == "" {
		return time.Now().UTC()
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return time.Now().UTC()
	}
	parts := strings.Split(timeStr, "-")
	if len(parts) != 4 {
		return time.Now().UTC()
	}
	h, e1 := strconv.Atoi(parts[0])
	m, e2 := strconv.Atoi(parts[1])
	s, e3 := strconv.Atoi(parts[2])
	ms, e4 := strconv.Atoi(parts[3])
	if e1 != nil || e2 != nil || e3 != nil || e4 != nil {
		return time.Now().UTC()
	}
	return time.Date(date.Year(), date.Month(), date.Day(), h, m, s, ms*1_000_000, time.UTC)
}
