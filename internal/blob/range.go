package blob

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethosengine/doorway/internal/apperr"
)

// ByteRange is an inclusive [Start,End] byte range resolved against a total
// size (spec.md §4.7).
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes the range covers.
func (r ByteRange) Length() int64 { return r.End - r.Start + 1 }

// ContentRange renders the Content-Range header value.
func (r ByteRange) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// ParseRange parses a "Range: bytes=a-b | a- | -n" header against total
// size. Invalid syntax or an unsatisfiable range both surface as the same
// apperr code, which the HTTP layer maps to 416 (spec.md §4.7, §7).
func ParseRange(header string, total int64) (ByteRange, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return ByteRange{}, rangeNotSatisfiable("range header must start with bytes=")
	}
	spec := strings.TrimPrefix(header, prefix)
	// Only the first range is honoured; multi-range requests are not
	// supported by this spec.
	spec = strings.Split(spec, ",")[0]

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return ByteRange{}, rangeNotSatisfiable("malformed range")
	}

	startStr, endStr := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

	switch {
	case startStr == "" && endStr != "":
		// Suffix range: last n bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return ByteRange{}, rangeNotSatisfiable("malformed suffix range")
		}
		if n > total {
			n = total
		}
		if n == 0 {
			return ByteRange{}, rangeNotSatisfiable("suffix range on empty content")
		}
		return ByteRange{Start: total - n, End: total - 1}, nil

	case startStr != "" && endStr == "":
		start, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil || start < 0 {
			return ByteRange{}, rangeNotSatisfiable("malformed range start")
		}
		if start >= total {
			return ByteRange{}, rangeNotSatisfiable("range start beyond content length")
		}
		return ByteRange{Start: start, End: total - 1}, nil

	case startStr != "" && endStr != "":
		start, err1 := strconv.ParseInt(startStr, 10, 64)
		end, err2 := strconv.ParseInt(endStr, 10, 64)
		if err1 != nil || err2 != nil || start < 0 || end < start {
			return ByteRange{}, rangeNotSatisfiable("malformed range bounds")
		}
		if start >= total {
			return ByteRange{}, rangeNotSatisfiable("range start beyond content length")
		}
		if end >= total {
			end = total - 1
		}
		return ByteRange{Start: start, End: end}, nil

	default:
		return ByteRange{}, rangeNotSatisfiable("empty range")
	}
}

func rangeNotSatisfiable(msg string) error {
	return apperr.NewCode(apperr.InvalidRequest, "RANGE_NOT_SATISFIABLE", msg)
}
