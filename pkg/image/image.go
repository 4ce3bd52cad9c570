package image

import (
	"path/filepath"

	"github.com/giantswarm/aliyun-image-operator/pkg/progress"
)

// UploadOptions configures UploadImageTarball.
type UploadOptions struct {
	// BlobName defaults to the base name of the uploaded file.
	BlobName  string
	ChunkSize int64
	Progress  progress.Reporter
	// ReplaceExisting replaces a blob of the same name.
	ReplaceExisting bool
}

// CreateOptions configures CreateComputeImage. The blob is read from the
// bucket of the session.
type CreateOptions struct {
	Name         string
	Description  string
	BlobName     string
	Platform     string
	OSType       string
	Architecture string
	DiskSizeGB   int
	// ReplaceExisting deletes an image of the same name first.
	ReplaceExisting bool
}

// DeleteOptions configures DeleteComputeImage and DeleteImageInRegions.
type DeleteOptions struct {
	// DeleteBlob also deletes the blob the image was imported from.
	DeleteBlob bool
	// Force deletes the image even if it is in use.
	Force bool
}

// BlobName returns the blob name used for the file at path when none is given.
func BlobName(path string) string {
	return filepath.Base(path)
}
