package normalize

import "encoding/base64"

// decodeImageField base64-decodes an IMAGE_OCR/IMAGE_CTX text field. An
// empty field yields (nil, nil) -- has_image_* is then false, matching
// spec.md §4.7 ("has_image_* set from non-empty text") and §8's boundary
// case (empty IMAGE_CTX -> has_image_ctx=false).
func decodeImageField(b64 string) ([]byte, error) {
	if b64 == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(b64)
}
