package static

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// httpRange is a single byte range resolved against a known size.
// Only a single range is supported — multi-range (comma-separated)
// requests are rejected with 416 rather than answered with a
// multipart/byteranges body.
type httpRange struct {
	start  int64
	length int64
}

func (r httpRange) contentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.start, r.start+r.length-1, size)
}

var errInvalidRange = errors.New("static: invalid range")

// parseRange parses a Range header value of the form "bytes=a-b",
// "bytes=a-", or "bytes=-n" against size. hasRange is false when v is
// empty (no Range header present at all, not an error). A malformed or
// unsatisfiable range returns errInvalidRange, which the caller turns
// into a 416 response.
func parseRange(v string, size int64) (r httpRange, hasRange bool, err error) {
	if v == "" {
		return httpRange{}, false, nil
	}
	const prefix = "bytes="
	if !strings.HasPrefix(v, prefix) {
		return httpRange{}, false, errInvalidRange
	}
	spec := v[len(prefix):]
	if strings.Contains(spec, ",") {
		// Multi-range requests are out of scope for this core.
		return httpRange{}, false, errInvalidRange
	}

	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return httpRange{}, false, errInvalidRange
	}
	startStr, endStr := spec[:dash], spec[dash+1:]

	switch {
	case startStr == "" && endStr == "":
		return httpRange{}, false, errInvalidRange

	case startStr == "":
		// "-n": last n bytes.
		n, perr := strconv.ParseInt(endStr, 10, 64)
		if perr != nil || n <= 0 {
			return httpRange{}, false, errInvalidRange
		}
		if n > size {
			n = size
		}
		return httpRange{start: size - n, length: n}, true, nil

	case endStr == "":
		// "a-": from a to end.
		start, perr := strconv.ParseInt(startStr, 10, 64)
		if perr != nil || start < 0 || start >= size {
			return httpRange{}, false, errInvalidRange
		}
		return httpRange{start: start, length: size - start}, true, nil

	default:
		start, perr1 := strconv.ParseInt(startStr, 10, 64)
		end, perr2 := strconv.ParseInt(endStr, 10, 64)
		if perr1 != nil || perr2 != nil || start < 0 || end < start || start >= size {
			return httpRange{}, false, errInvalidRange
		}
		if end >= size {
			end = size - 1
		}
		return httpRange{start: start, length: end - start + 1}, true, nil
	}
}
