package tdsingestor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Decode failures. Each one drops the message and never stops the loop.
var (
	ErrInvalidEncoding  = errors.New("payload is not valid UTF-8")
	ErrMalformedPayload = errors.New("payload is not a JSON object with a string tds_value")
	ErrMissingField     = errors.New("payload has no tds_value")
	ErrInvalidValue     = errors.New("tds_value is not a finite number")
)

// valueField is the only key read from the sensor's {"tds_value": "<numeric-as-text>"} object.
// It is matched exactly, including case.
const valueField = "tds_value"

// DecodePayload extracts the textual tds_value from a raw message body
func DecodePayload(payload []byte) (string, error) {
	if !utf8.Valid(payload) {
		return "", ErrInvalidEncoding
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if fields == nil {
		return "", fmt.Errorf("%w: null body", ErrMalformedPayload)
	}

	raw, ok := fields[valueField]
	if !ok {
		return "", ErrMissingField
	}

	var text *string
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if text == nil {
		return "", ErrMissingField
	}

	return *text, nil
}

// ParseValue converts the decoded text into a ppm value
func ParseValue(text string) (float64, error) {
	// decimal text only, no hex floats
	if hasHexPrefix(text) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValue, text)
	}

	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValue, text)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValue, text)
	}
	return v, nil
}

func hasHexPrefix(text string) bool {
	t := strings.TrimLeft(text, "+-")
	return len(t) >= 2 && t[0] == '0' && (t[1] == 'x' || t[1] == 'X')
}

// Decode runs DecodePayload then ParseValue
func Decode(payload []byte) (float64, error) {
	text, err := DecodePayload(payload)
	if err != nil {
		return 0, err
	}
	return ParseValue(text)
}

// dropReason maps a decode error onto the metrics/feedback label
func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidEncoding):
		return "invalid_encoding"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrInvalidValue):
		return "invalid_value"
	default:
		return "unknown"
	}
}
