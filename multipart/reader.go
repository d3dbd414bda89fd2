/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package multipart

import (
	"bufio"
	"bytes"
	"io"

	"github.com/badu/evhttp/hdr"
)

// NewReader creates a Reader over r, using boundary as the delimiter.
// Callers MUST have already validated boundary with ValidateBoundary.
func NewReader(r io.Reader, boundary string) *Reader {
	b := []byte("\r\n--" + boundary + "--")
	return &Reader{
		bufReader:        bufio.NewReaderSize(&stickyErrorReader{r: r}, peekBufferSize),
		nl:               b[:2],
		nlDashBoundary:   b[:len(b)-2],
		dashBoundaryDash: b[2:],
		dashBoundary:     b[2 : len(b)-2],
	}
}

// NextPart returns the next part in the multipart body, or io.EOF when
// there are no more parts.
func (r *Reader) NextPart() (*Part, error) {
	if r.currentPart != nil {
		if err := r.currentPart.close(); err != nil {
			return nil, err
		}
	}

	expectNewPart := false
	for {
		line, err := r.readLine()
		if err == io.EOF && expectNewPart {
			return nil, io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, err
		}

		if r.isBoundaryDelimiterLine(line) {
			r.partsRead++
			bp, err := newPart(r)
			if err != nil {
				return nil, err
			}
			r.currentPart = bp
			return bp, nil
		}

		if r.isFinalBoundary(line) {
			return nil, io.EOF
		}

		if expectNewPart {
			return nil, io.ErrUnexpectedEOF
		}

		if r.partsRead == 0 {
			// Skip the preamble.
			continue
		}
		// Consume the line break between the previous part's body and
		// the boundary line that must follow it.
		if bytes.Equal(line, r.nl) {
			expectNewPart = true
			continue
		}
		return nil, io.ErrUnexpectedEOF
	}
}

func (r *Reader) readLine() ([]byte, error) {
	line, err := r.bufReader.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		// Line longer than the internal buffer: treat as malformed
		// rather than growing unbounded.
		return nil, io.ErrUnexpectedEOF
	}
	return line, err
}

func (r *Reader) isFinalBoundary(line []byte) bool {
	if !bytes.HasPrefix(line, r.dashBoundaryDash) {
		return false
	}
	rest := line[len(r.dashBoundaryDash):]
	rest = skipLWSPChar(rest)
	return len(rest) == 0 || bytes.Equal(rest, []byte("\n")) || bytes.Equal(rest, []byte("\r\n"))
}

func (r *Reader) isBoundaryDelimiterLine(line []byte) bool {
	if !bytes.HasPrefix(line, r.dashBoundary) {
		return false
	}
	rest := line[len(r.dashBoundary):]
	rest = skipLWSPChar(rest)
	if r.nl == nil && len(rest) == 1 && rest[0] == '\n' {
		r.nl = []byte("\n")
		r.nlDashBoundary = r.nlDashBoundary[:0]
		r.nlDashBoundary = append(r.nlDashBoundary, r.nl...)
		r.nlDashBoundary = append(r.nlDashBoundary, r.dashBoundary...)
	}
	return bytes.Equal(rest, r.nl)
}

func skipLWSPChar(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}

func newPart(mr *Reader) (*Part, error) {
	bp := &Part{Header: make(hdr.Header), mr: mr}
	if err := bp.populateHeaders(); err != nil {
		return nil, err
	}
	return bp, nil
}

func (p *Part) populateHeaders() error {
	h, err := readMIMEHeader(p.mr.bufReader)
	if err == nil {
		p.Header = h
	}
	return err
}

func (p *Part) close() error {
	_, err := io.Copy(io.Discard, p)
	return err
}

// Read reads the body of a part, after its header block and before the
// next boundary.
func (p *Part) Read(d []byte) (int, error) {
	return partReader{p}.Read(d)
}

// scanUntilBoundary scans buf to find how much of it can be returned as
// part of the current Part's body. dashBoundary is "--boundary";
// nlDashBoundary is "\r\n--boundary" (or "\n--boundary"). total is the
// number of body bytes already returned for this part; readErr is the
// error (if any) that followed reading the bytes currently in buf.
func scanUntilBoundary(buf, dashBoundary, nlDashBoundary []byte, total int64, readErr error) (int, error) {
	if total == 0 {
		if bytes.HasPrefix(buf, dashBoundary) {
			switch matchAfterPrefix(buf, dashBoundary, readErr) {
			case -1:
				return len(dashBoundary), nil
			case 0:
				return 0, nil
			case +1:
				return 0, io.EOF
			}
		}
		if bytes.HasPrefix(dashBoundary, buf) {
			return 0, readErr
		}
	}

	if i := bytes.Index(buf, nlDashBoundary); i >= 0 {
		switch matchAfterPrefix(buf[i:], nlDashBoundary, readErr) {
		case -1:
			return i + len(nlDashBoundary), nil
		case 0:
			return i, nil
		case +1:
			return i, io.EOF
		}
	}
	if bytes.HasPrefix(nlDashBoundary, buf) {
		return 0, readErr
	}

	i := bytes.LastIndexByte(buf, nlDashBoundary[0])
	if i >= 0 && bytes.HasPrefix(nlDashBoundary, buf[i:]) {
		return i, nil
	}
	return len(buf), readErr
}

// matchAfterPrefix returns +1 if buf matches the boundary (prefix
// followed by dash/space/tab/cr/nl/EOF), -1 if it definitely does not,
// and 0 if more input is needed to decide.
func matchAfterPrefix(buf, prefix []byte, readErr error) int {
	if len(buf) == len(prefix) {
		if readErr != nil {
			return +1
		}
		return 0
	}
	c := buf[len(prefix)]
	if c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '-' {
		return +1
	}
	return -1
}

func (pr partReader) Read(d []byte) (int, error) {
	p := pr.p
	br := p.mr.bufReader

	for p.n == 0 && p.err == nil {
		peek, _ := br.Peek(br.Buffered())
		p.n, p.err = scanUntilBoundary(peek, p.mr.dashBoundary, p.mr.nlDashBoundary, p.total, p.readErr)
		if p.n == 0 && p.err == nil {
			_, p.readErr = br.Peek(len(peek) + 1)
			if p.readErr == io.EOF {
				p.readErr = io.ErrUnexpectedEOF
			}
		}
	}

	if p.n == 0 {
		return 0, p.err
	}
	n := len(d)
	if n > p.n {
		n = p.n
	}
	n, _ = br.Read(d[:n])
	p.total += int64(n)
	p.n -= n
	if p.n == 0 {
		return n, p.err
	}
	return n, nil
}
