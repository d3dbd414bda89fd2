package multipart

import (
	"bytes"
	"io"
)

// ReadForm parses an entire multipart/form-data body. Non-file fields
// are accumulated in memory up to maxValueBytes total; every file part
// is streamed straight to a file obtained from owner, never buffered
// whole in memory, per the temp-file ownership contract described in
// internal/tempfile.
func ReadForm(r io.Reader, boundary string, maxValueBytes int64, owner FileOwner) (_ *Form, err error) {
	if verr := ValidateBoundary(boundary); verr != nil {
		return nil, verr
	}
	mr := NewReader(r, boundary)

	form := &Form{Value: make(map[string][]string), File: make(map[string][]*FileHeader)}
	for {
		p, perr := mr.NextPart()
		if perr == io.EOF {
			break
		}
		if perr != nil {
			return nil, perr
		}

		name := p.FormName()
		if name == "" {
			continue
		}
		filename := p.FileName()

		if filename == "" {
			var b bytes.Buffer
			n, cerr := io.CopyN(&b, p, maxValueBytes+1)
			if cerr != nil && cerr != io.EOF {
				return nil, cerr
			}
			maxValueBytes -= n
			if maxValueBytes < 0 {
				return nil, ErrMessageTooLarge
			}
			form.Value[name] = append(form.Value[name], b.String())
			continue
		}

		w, tmpPath, cerr := owner.Create(filename)
		if cerr != nil {
			return nil, cerr
		}
		size, cerr := io.Copy(w, p)
		closeErr := w.Close()
		if cerr != nil {
			return nil, cerr
		}
		if closeErr != nil {
			return nil, closeErr
		}
		fh := &FileHeader{
			Filename: filename,
			Header:   p.Header,
			Size:     size,
			TempPath: tmpPath,
		}
		form.File[name] = append(form.File[name], fh)
	}
	return form, nil
}
