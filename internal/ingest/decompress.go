package ingest

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// decompressBrotli inflates a brotli-compressed frame. Upstream
// flashblock feeds send binary frames compressed, text frames plain.
func decompressBrotli(payload []byte) ([]byte, error) {
	reader := brotli.NewReader(bytes.NewReader(payload))
	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompress brotli frame: %w", err)
	}
	return out, nil
}
