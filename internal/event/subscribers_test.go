package event

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecodeSubscribers_JSONStrings(t *testing.T) {
	groups, private := decodeSubscribers(Raw{
		"group_subscriber":   `{"10001": ["1", "2"], "10002": []}`,
		"private_subscriber": `["3", "4"]`,
	}, discardLogger())

	assert.Equal(t, map[string][]string{"10001": {"1", "2"}, "10002": {}}, groups)
	assert.Equal(t, []string{"3", "4"}, private)
}

func TestDecodeSubscribers_NativeShapes(t *testing.T) {
	groups, private := decodeSubscribers(Raw{
		"group_subscriber":   map[string]any{"10001": []any{"1", float64(2)}},
		"private_subscriber": []any{"9"},
	}, discardLogger())

	assert.Equal(t, map[string][]string{"10001": {"1", "2"}}, groups)
	assert.Equal(t, []string{"9"}, private)
}

func TestDecodeSubscribers_MalformedJSONFallsBack(t *testing.T) {
	groups, private := decodeSubscribers(Raw{
		"group_subscriber":   `{"10001": [`,
		"private_subscriber": `not json`,
	}, discardLogger())

	assert.Empty(t, groups)
	assert.Empty(t, private)
	assert.NotNil(t, groups)
	assert.NotNil(t, private)
}

func TestDecodeSubscribers_WrongTypeFallsBack(t *testing.T) {
	// A JSON list where a map is expected, and vice versa.
	groups, private := decodeSubscribers(Raw{
		"group_subscriber":   `["1", "2"]`,
		"private_subscriber": `{"a": 1}`,
	}, discardLogger())

	assert.Empty(t, groups)
	assert.Empty(t, private)
}

func TestDecodeSubscribers_NoEnrichmentRow(t *testing.T) {
	groups, private := decodeSubscribers(nil, discardLogger())
	assert.NotNil(t, groups)
	assert.NotNil(t, private)
	assert.Empty(t, groups)
	assert.Empty(t, private)
}
