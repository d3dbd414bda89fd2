package tempfile

import "os"

// UploadedFile is the host-visible handle to one parsed upload. It
// borrows the underlying temp file from a Manager; MoveTo transfers
// ownership atomically and tells the Manager to stop tracking the path.
type UploadedFile struct {
	ClientFilename string
	ClientMediaType string
	TempPath       string
	Size           int64
	Status         UploadStatus

	owner *Manager
}

// UploadStatus is the lifecycle state of an uploaded-file record.
type UploadStatus int

const (
	UploadOK UploadStatus = iota
	UploadTooLarge
	UploadPartial
	UploadError
)

// NewUploadedFile wraps a path created by owner.Create.
func NewUploadedFile(owner *Manager, filename, mediaType, path string, size int64) *UploadedFile {
	return &UploadedFile{
		ClientFilename:  filename,
		ClientMediaType: mediaType,
		TempPath:        path,
		Size:            size,
		Status:          UploadOK,
		owner:           owner,
	}
}

// MoveTo atomically renames the temp file to dst and releases it from
// the owning Manager; after this call, Cleanup will no longer remove it.
func (u *UploadedFile) MoveTo(dst string) error {
	if err := os.Rename(u.TempPath, dst); err != nil {
		return err
	}
	u.owner.Release(u.TempPath)
	u.TempPath = dst
	return nil
}

// Discard deletes the temp file unless ownership was already
// transferred via MoveTo. Called once the request it belongs to has
// been answered.
func (u *UploadedFile) Discard() {
	u.owner.RemovePath(u.TempPath)
}
