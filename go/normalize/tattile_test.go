package normalize

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseTattileXML_RequiredFieldsMissing(t *testing.T) {
	_, err := ParseTattileXML(`<root><DEVICE_SN>CAM01</DEVICE_SN></root>`)
	require.Error(t, err)

	_, err = ParseTattileXML(`<root><PLATE_STRING>1234ABC</PLATE_STRING></root>`)
	require.Error(t, err)
}

func TestParseTattileXML_CombinesDateTimeToUTC(t *testing.T) {
	r, err := ParseTattileXML(`<root>
		<PLATE_STRING>1234ABC</PLATE_STRING>
		<DEVICE_SN>CAM01</DEVICE_SN>
		<DATE>2026-07-29</DATE>
		<TIME>14-05-02-123</TIME>
	</root>`)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 7, 29, 14, 5, 2, 123_000_000, time.UTC), r.TimestampUTC)
}

func TestParseTattileXML_MissingDateTimeFallsBackToNow(t *testing.T) {
	before := time.Now().UTC()
	r, err := ParseTattileXML(`<root><PLATE_STRING>1234ABC</PLATE_STRING><DEVICE_SN>CAM01</DEVICE_SN></root>`)
	require.NoError(t, err)
	require.True(t, !r.TimestampUTC.Before(before))
}

func TestParseTattileXML_EmptyImageCTXYieldsNoBytes(t *testing.T) {
	ocr := base64.StdEncoding.EncodeToString([]byte("ocrbytes"))
	r, err := ParseTattileXML(`<root>
		<PLATE_STRING>1234ABC</PLATE_STRING>
		<DEVICE_SN>CAM01</DEVICE_SN>
		<IMAGE_OCR>` + ocr + `</IMAGE_OCR>
		<IMAGE_CTX></IMAGE_CTX>
	</root>`)
	require.NoError(t, err)
	require.Equal(t, []byte("ocrbytes"), r.ImageOCR)
	require.Nil(t, r.ImageCTX)
}

func TestParseTattileXML_OptionalFieldsMapped(t *testing.T) {
	r, err := ParseTattileXML(`<root>
		<PLATE_STRING>1234ABC</PLATE_STRING>
		<DEVICE_SN>CAM01</DEVICE_SN>
		<DIRECTION>N</DIRECTION>
		<LANE_ID>2</LANE_ID>
		<OCRSCORE>087</OCRSCORE>
		<PLATE_COUNTRY>ES</PLATE_COUNTRY>
		<ORIG_PLATE_MIN_X>10</ORIG_PLATE_MIN_X>
		<ORIG_PLATE_MAX_X>50</ORIG_PLATE_MAX_X>
	</root>`)
	require.NoError(t, err)
	require.Equal(t, "N", *r.Direction)
	require.Equal(t, 2, *r.LaneID)
	require.Equal(t, 87, *r.OCRScore)
	require.Equal(t, "ES", *r.Country)
	require.Equal(t, 10, *r.BBox.MinX)
	require.Equal(t, 50, *r.BBox.MaxX)
}
