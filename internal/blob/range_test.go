package blob

import (
	"testing"

	"github.com/ethosengine/doorway/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange_ExplicitBounds(t *testing.T) {
	r, err := ParseRange("bytes=0-99", 1000)
	require.NoError(t, err)
	assert.Equal(t, ByteRange{Start: 0, End: 99}, r)
	assert.Equal(t, int64(100), r.Length())
	assert.Equal(t, "bytes 0-99/1000", r.ContentRange(1000))
}

func TestParseRange_OpenEnded(t *testing.T) {
	r, err := ParseRange("bytes=500-", 1000)
	require.NoError(t, err)
	assert.Equal(t, ByteRange{Start: 500, End: 999}, r)
}

func TestParseRange_Suffix(t *testing.T) {
	r, err := ParseRange("bytes=-100", 1000)
	require.NoError(t, err)
	assert.Equal(t, ByteRange{Start: 900, End: 999}, r)
}

func TestParseRange_SuffixLargerThanTotalClampsToWholeContent(t *testing.T) {
	r, err := ParseRange("bytes=-10000", 1000)
	require.NoError(t, err)
	assert.Equal(t, ByteRange{Start: 0, End: 999}, r)
}

func TestParseRange_EndBeyondTotalClamps(t *testing.T) {
	r, err := ParseRange("bytes=0-9999", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(999), r.End)
}

func TestParseRange_UnsatisfiableStartReturns416Code(t *testing.T) {
	_, err := ParseRange("bytes=2000-2100", 1000)
	require.Error(t, err)
	status, code, _ := apperr.StatusAndCode(err)
	assert.Equal(t, 416, status)
	assert.Equal(t, "RANGE_NOT_SATISFIABLE", code)
}

func TestParseRange_MalformedHeader(t *testing.T) {
	for _, h := range []string{"", "not-bytes=0-10", "bytes=", "bytes=abc-10", "bytes=10-5"} {
		_, err := ParseRange(h, 1000)
		assert.Error(t, err, "header %q should be rejected", h)
	}
}
