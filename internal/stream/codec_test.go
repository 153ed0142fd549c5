package stream

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/ack/pkg/models"
)

func TestCodec(t *testing.T) {
	t.Run("Should round trip every scalar kind exactly", func(t *testing.T) {
		rec := models.NewFlat(
			"s", "line\nbreak",
			"i", int64(math.MaxInt64),
			"f", 2.0,
			"big", 1e21,
			"b", false,
			"n", nil,
		)
		var buf bytes.Buffer
		enc := NewEncoder(&buf)
		require.NoError(t, enc.Encode(rec))
		assert.Equal(t, 1, strings.Count(buf.String(), "\n"))

		var got []models.Flat
		for r, err := range Decode(&buf) {
			require.NoError(t, err)
			got = append(got, r)
		}
		require.Len(t, got, 1)
		assert.Equal(t, rec, got[0])
	})

	t.Run("Should tolerate a byte-order mark, CRLF and blank lines", func(t *testing.T) {
		in := "\xEF\xBB\xBF{\"a\":1}\r\n\n{\"a\":2}"
		var got []any
		for r, err := range Decode(strings.NewReader(in)) {
			require.NoError(t, err)
			v, _ := r.Get("a")
			got = append(got, v)
		}
		assert.Equal(t, []any{int64(1), int64(2)}, got)
	})

	t.Run("Should report the failing line", func(t *testing.T) {
		in := "{\"a\":1}\n{\"a\":{\"nested\":true}}\n"
		var lastErr error
		for _, err := range Decode(strings.NewReader(in)) {
			lastErr = err
		}
		require.Error(t, lastErr)
		assert.Contains(t, lastErr.Error(), "line 2")
	})

	t.Run("Should refuse to encode non-finite floats", func(t *testing.T) {
		_, err := AppendLine(nil, models.Flat{Fields: []models.Field{{Path: "x", Value: math.NaN()}}})
		assert.Error(t, err)
	})
}
