package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// keyFamily is a static descriptor of the alternate field names a single
// logical value may arrive under, per spec.md §9's guidance to iterate a
// table rather than branch inline. Grounded on
// original_source/app/ingest/lectorvision.py's IMAGE_OCR_KEYS/IMAGE_CTX_KEYS/
// CHAR_HEIGHT_KEYS tuples. The File Processor's *Path/IMAGE_* variants are
// not part of these tables; go/processor keeps its own.
type keyFamily struct {
	name string
	keys []string
}

var (
	imageOCRKeys = keyFamily{"OCR", []string{"ImageOcr", "ImageOCR", "ImageOcrBase64", "ImageOCRBase64", "ImageOcrB64"}}
	imageCTXKeys = keyFamily{"CTX", []string{"ImageCtx", "ImageCTX", "ImageCtxBase64", "ImageCTXBase64", "ImageCtxB64"}}
	charHeightKeys = keyFamily{"CharHeight", []string{"CharHeight", "PlateCharHeight", "PlateCharheight"}}
)

// ErrLectorVision is raised for validation/conversion failures of a
// Lector Vision payload (spec.md §4.7/§7 ParseError).
type ErrLectorVision struct{ Msg string }

func (e *ErrLectorVision) Error() string { return e.Msg }

func lvErrorf(format string, args ...any) error {
	return &ErrLectorVision{Msg: fmt.Sprintf(format, args...)}
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

func optionalInt(v any) (int, bool) {
	s := asString(v)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int(f), true
}

func extractFirst(payload map[string]any, family keyFamily) string {
	for _, k := range family.keys {
		if v, ok := payload[k]; ok {
			if s := asString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func requireString(payload map[string]any, key string) (string, error) {
	v, ok := payload[key]
	if !ok {
		return "", lvErrorf("required field missing or empty: %s", key)
	}
	s := asString(v)
	if s == "" {
		return "", lvErrorf("required field missing or empty: %s", key)
	}
	return s, nil
}

// parseLectorVisionTimestamp converts "YYYY/MM/DD HH:MM:SS.mmm" into the
// Tattile DATE/TIME pair, per spec.md §4.7 and
// original_source/app/ingest/lectorvision.py's parse_lectorvision_timestamp.
func parseLectorVisionTimestamp(raw string) (date, tm string, err error) {
	parsed, parseErr := time.Parse("2006/01/02 15:04:05.000", raw)
	if parseErr != nil {
		return "", "", lvErrorf("invalid TimeStamp, expected YYYY/MM/DD HH:MM:SS.mmm: %v", parseErr)
	}
	date = parsed.Format("2006-01-02")
	millis := parsed.Nanosecond() / 1_000_000
	tm = fmt.Sprintf("%s-%03d", parsed.Format("15-04-05"), millis)
	return date, tm, nil
}

// tattileField is one emitted <TAG>value</TAG> pair, kept ordered for a
// deterministic, reviewable XML document.
type tattileField struct {
	tag, value string
}

// BuildTattileXMLFromLectorVision implements spec.md §4.7's Lector
// Vision JSON -> Tattile XML mapping: Plate/(SerialNumber|IdDevice)/
// TimeStamp required; Fiability -> zero-padded OCRSCORE; LaneNumber/
// LaneName/Direction passthrough; PlateCoord -> ORIG_PLATE_*;
// Country=724 -> PLATE_COUNTRY=ES with PLATE_COUNTRY_CODE echoed;
// image fields accepted under any of the documented key families.
func BuildTattileXMLFromLectorVision(payload map[string]any) (string, error) {
	plate, err := requireString(payload, "Plate")
	if err != nil {
		return "", err
	}
	deviceSN := asString(payload["SerialNumber"])
	if deviceSN == "" {
		deviceSN = asString(payload["IdDevice"])
	}
	if deviceSN == "" {
		return "", lvErrorf("required field missing or empty: SerialNumber/IdDevice")
	}
	timestampRaw, err := requireString(payload, "TimeStamp")
	if err != nil {
		return "", err
	}
	date, tm, err := parseLectorVisionTimestamp(timestampRaw)
	if err != nil {
		return "", err
	}

	var fields []tattileField
	add := func(tag, value string) {
		if value != "" {
			fields = append(fields, tattileField{tag, value})
		}
	}

	add("PLATE_STRING", plate)
	add("DEVICE_SN", deviceSN)
	add("DATE", date)
	add("TIME", tm)
	add("IMAGE_OCR", extractFirst(payload, imageOCRKeys))
	add("IMAGE_CTX", extractFirst(payload, imageCTXKeys))

	if score, ok := optionalInt(payload["Fiability"]); ok {
		add("OCRSCORE", fmt.Sprintf("%03d", score))
	}
	add("DIRECTION", asString(payload["Direction"]))

	if laneID, ok := optionalInt(payload["LaneNumber"]); ok {
		add("LANE_ID", strconv.Itoa(laneID))
	}
	add("LANE_DESCR", asString(payload["LaneName"]))

	if coords, ok := payload["PlateCoord"].([]any); ok && len(coords) >= 4 {
		tags := []string{"ORIG_PLATE_MIN_X", "ORIG_PLATE_MIN_Y", "ORIG_PLATE_MAX_X", "ORIG_PLATE_MAX_Y"}
		for i, tag := range tags {
			if v, ok := optionalInt(coords[i]); ok {
				add(tag, strconv.Itoa(v))
			}
		}
	}

	if countryRaw := asString(payload["Country"]); countryRaw != "" {
		add("PLATE_COUNTRY_CODE", countryRaw)
		if n, err := strconv.Atoi(countryRaw); err == nil && n == 724 {
			add("PLATE_COUNTRY", "ES")
		}
	}

	charHeight := extractFirst(payload, charHeightKeys)
	if charHeight != "" {
		if v, ok := optionalInt(charHeight); ok {
			add("CHAR_HEIGHT", strconv.Itoa(v))
		}
	}

	var b strings.Builder
	b.WriteString("<root>")
	for _, f := range fields {
		fmt.Fprintf(&b, "<%s>%s</%s>", f.tag, escapeXMLText(f.value), f.tag)
	}
	b.WriteString("</root>")
	return b.String(), nil
}

func escapeXMLText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
