package wire

import "bytes"

var crlfcrlf = []byte("\r\n\r\n")

// HasCompleteHeaders reports whether buf contains a full header block
// (terminated by CRLF CRLF).
func HasCompleteHeaders(buf []byte) bool {
	return bytes.Index(buf, crlfcrlf) >= 0
}

// SplitHeadersAndBody splits buf into the raw header block (including
// the request line, excluding the terminating blank line) and whatever
// body bytes have arrived so far. ok is false if buf has no complete
// header block yet.
func SplitHeadersAndBody(buf []byte) (headerBlock, body []byte, ok bool) {
	i := bytes.Index(buf, crlfcrlf)
	if i < 0 {
		return nil, nil, false
	}
	return buf[:i], buf[i+4:], true
}
