package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildTattileXMLFromLectorVision_RequiredFieldsMissing(t *testing.T) {
	_, err := BuildTattileXMLFromLectorVision(map[string]any{
		"SerialNumber": "CAM01",
		"TimeStamp":    "2026/07/29 14:05:02.123",
	})
	require.Error(t, err)
}

func TestBuildTattileXMLFromLectorVision_InvalidTimestamp(t *testing.T) {
	_, err := BuildTattileXMLFromLectorVision(map[string]any{
		"Plate":        "1234ABC",
		"SerialNumber": "CAM01",
		"TimeStamp":    "not-a-timestamp",
	})
	require.Error(t, err)
}

// TestRoundTrip_FiabilityAndCountryMapping implements spec.md §8's
// round-trip law: Lector Vision JSON -> Tattile XML -> canonical reading
// maps Fiability=87 -> ocr_score=87 and Country=724 -> country="ES" with
// country_code="724" preserved.
func TestRoundTrip_FiabilityAndCountryMapping(t *testing.T) {
	payload := map[string]any{
		"Plate":        "1234ABC",
		"SerialNumber": "CAM01",
		"TimeStamp":    "2026/07/29 14:05:02.123",
		"Fiability":    87,
		"Country":      "724",
		"LaneNumber":   3,
		"LaneName":     "Carril 3",
		"Direction":    "N",
		"PlateCoord":   []any{10, 20, 110, 70},
	}

	xmlDoc, err := BuildTattileXMLFromLectorVision(payload)
	require.NoError(t, err)

	reading, err := ParseTattileXML(xmlDoc)
	require.NoError(t, err)

	require.Equal(t, "1234ABC", reading.Plate)
	require.Equal(t, "CAM01", reading.DeviceSN)
	require.Equal(t, 87, *reading.OCRScore)
	require.Equal(t, "ES", *reading.Country)
	require.Equal(t, "724", *reading.CountryCode)
	require.Equal(t, 3, *reading.LaneID)
	require.Equal(t, "Carril 3", *reading.LaneDescr)
	require.Equal(t, "N", *reading.Direction)
	require.Equal(t, 10, *reading.BBox.MinX)
	require.Equal(t, 20, *reading.BBox.MinY)
	require.Equal(t, 110, *reading.BBox.MaxX)
	require.Equal(t, 70, *reading.BBox.MaxY)
}

func TestBuildTattileXMLFromLectorVision_ImageKeyFamilies(t *testing.T) {
	payload := map[string]any{
		"Plate":        "1234ABC",
		"IdDevice":     "CAM02",
		"TimeStamp":    "2026/07/29 14:05:02.000",
		"ImageOCRBase64": "aGVsbG8=",
	}
	xmlDoc, err := BuildTattileXMLFromLectorVision(payload)
	require.NoError(t, err)

	reading, err := ParseTattileXML(xmlDoc)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), reading.ImageOCR)
}
