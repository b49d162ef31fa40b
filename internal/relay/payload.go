package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pscheid92/sensorrelay/internal/domain"
)

const previewLength = 100

// NormalizePayload checks that raw holds exactly one JSON value and re-encodes it.
// Numbers keep their literal form and HTML characters are not escaped, so the output
// is semantically equal to the input without necessarily being byte-identical.
func NormalizePayload(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: unexpected data after JSON value", domain.ErrMalformedPayload)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// preview truncates a message for log output.
func preview(data []byte) string {
	if len(data) <= previewLength {
		return string(data)
	}
	return string(data[:previewLength]) + "..."
}
