package storage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

var gzipMagic = []byte{0x1f, 0x8b}

// decodeContent returns the object bytes as text, gunzipping first when the
// writer stored the log compressed. Sniffing the magic bytes keeps the key
// contract unchanged; no .gz suffix is required.
func decodeContent(data []byte) (string, error) {
	if !bytes.HasPrefix(data, gzipMagic) {
		return string(data), nil
	}

	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("opening gzip reader: %w", err)
	}
	defer gr.Close()

	plain, err := io.ReadAll(gr)
	if err != nil {
		return "", fmt.Errorf("decompressing object: %w", err)
	}

	return string(plain), nil
}
