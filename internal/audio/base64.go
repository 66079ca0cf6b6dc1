package audio

import (
	"encoding/base64"
	"fmt"
)

// DecodeBase64 converts a base64 transport string into raw bytes.
func DecodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 audio: %w", err)
	}
	return data, nil
}

// EncodeBase64 converts raw bytes into a base64 transport string.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// ConcatBase64Chunks decodes each chunk and joins the resulting bytes.
// Streamed synthesis delivers audio as multiple base64 segments; those
// segments must be decoded before joining. Concatenating the base64 text
// itself produces garbage because chunk boundaries carry padding.
func ConcatBase64Chunks(chunks []string) ([]byte, error) {
	var total int
	decoded := make([][]byte, 0, len(chunks))
	for i, chunk := range chunks {
		data, err := DecodeBase64(chunk)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		decoded = append(decoded, data)
		total += len(data)
	}

	out := make([]byte, 0, total)
	for _, data := range decoded {
		out = append(out, data...)
	}
	return out, nil
}
