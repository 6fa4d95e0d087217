// Package upload pushes generated images to S3-compatible object storage
// and hands back presigned GET URLs. Upload is enabled purely by the
// presence of bucket credentials; without them jobs return local paths.
package upload

import "context"

// Uploader stores a single generated image and returns a URL a caller can
// fetch it from.
type Uploader interface {
	// UploadFile uploads the file at localPath under the given job ID and
	// returns a presigned GET URL.
	UploadFile(ctx context.Context, jobID, localPath string) (string, error)
}

// UploaderFunc adapts an ordinary function to the Uploader interface.
type UploaderFunc func(ctx context.Context, jobID, localPath string) (string, error)

// UploadFile calls f(ctx, jobID, localPath).
func (f UploaderFunc) UploadFile(ctx context.Context, jobID, localPath string) (string, error) {
	return f(ctx, jobID, localPath)
}
