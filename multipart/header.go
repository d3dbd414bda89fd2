package multipart

import (
	"bufio"
	"fmt"

	"github.com/badu/evhttp/hdr"
)

// readMIMEHeader reads a block of "Name: value" lines terminated by a
// blank line, canonicalizing names and accumulating repeated ones.
func readMIMEHeader(br *bufio.Reader) (hdr.Header, error) {
	h := make(hdr.Header)
	for {
		line, err := br.ReadSlice('\n')
		if err != nil {
			if err == bufio.ErrBufferFull {
				return h, fmt.Errorf("multipart: header line too long")
			}
			return h, err
		}
		trimmed := trimCRLF(line)
		if len(trimmed) == 0 {
			return h, nil
		}
		i := indexByte(trimmed, ':')
		if i < 0 {
			return h, fmt.Errorf("multipart: malformed header line %q", trimmed)
		}
		name := hdr.CanonicalHeaderKey(string(trimCRLF(trimmed[:i])))
		value := string(trimSpace(trimmed[i+1:]))
		h[name] = append(h[name], value)
	}
}

func trimCRLF(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func trimSpace(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
