package wire

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/url"
	"strings"

	"github.com/badu/evhttp/hdr"
	mp "github.com/badu/evhttp/multipart"
	"github.com/badu/evhttp/internal/tempfile"
)

// MaxMultipartValueBytes bounds the in-memory budget for non-file
// multipart fields, mirroring the "10MB reserved for non-file parts"
// convention documented in the multipart package this was adapted from.
const MaxMultipartValueBytes = 10 << 20

// parseBody dispatches on Content-Type. Invalid
// JSON is not an error: the parsed body is simply left nil. Invalid
// multipart boundaries ARE an error (ErrInvalidMultipart).
func parseBody(h hdr.Header, body []byte, files *tempfile.Manager) (any, map[string][]*tempfile.UploadedFile, error) {
	ct := h.Get(hdr.ContentType)
	mediaType, params, _ := mime.ParseMediaType(ct)

	switch {
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, nil, nil
		}
		flat := make(map[string]string, len(values))
		for k, v := range values {
			if len(v) > 0 {
				flat[k] = v[0]
			}
		}
		return flat, nil, nil

	case mediaType == "application/json":
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, nil, nil
		}
		return v, nil, nil

	case strings.HasPrefix(mediaType, "multipart/"):
		boundary := params["boundary"]
		if err := mp.ValidateBoundary(boundary); err != nil {
			return nil, nil, ErrInvalidMultipart
		}
		form, err := mp.ReadForm(bytes.NewReader(body), boundary, MaxMultipartValueBytes, files)
		if err != nil {
			return nil, nil, &ParseError{"multipart", err.Error()}
		}
		fields := make(map[string]string, len(form.Value))
		for k, v := range form.Value {
			if len(v) > 0 {
				fields[k] = v[0]
			}
		}
		uploaded := make(map[string][]*tempfile.UploadedFile, len(form.File))
		for field, fhs := range form.File {
			for _, fh := range fhs {
				mt := fh.Header.Get(hdr.ContentType)
				uploaded[field] = append(uploaded[field], tempfile.NewUploadedFile(files, fh.Filename, mt, fh.TempPath, fh.Size))
			}
		}
		return fields, uploaded, nil

	default:
		return nil, nil, nil
	}
}
