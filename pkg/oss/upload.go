package oss

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/giantswarm/aliyun-image-operator/pkg/imgerr"
	"github.com/giantswarm/aliyun-image-operator/pkg/progress"
)

type UploadOptions struct {
	// ChunkSize overrides the preferred part size of the client.
	ChunkSize int64
	Progress  progress.Reporter
	// ReplaceExisting deletes a blob of the same name before uploading.
	ReplaceExisting bool
}

// PartSize returns the part size used for a file of total bytes. The preferred
// size is doubled until the upload fits in MaxParts parts.
func PartSize(total, preferred int64) int64 {
	if preferred <= 0 {
		preferred = DefaultChunkSize
	}
	if total < preferred {
		return total
	}
	for preferred*MaxParts < total {
		preferred *= 2
	}
	return preferred
}

// Upload copies the file at path to the blob name using a multipart upload and
// waits until the blob is visible.
func (c *Client) Upload(ctx context.Context, name, path string, opts UploadOptions) (string, error) {
	log := log.FromContext(ctx)

	exists, err := c.Exists(ctx, name)
	if err != nil {
		return "", imgerr.Wrap(imgerr.Upload, err, "unable to upload image")
	}
	if exists && !opts.ReplaceExisting {
		return "", imgerr.New(imgerr.AlreadyExists,
			"blob %s already exists in bucket %s, to replace it use the force replace option", name, c.bucketName)
	}

	file, err := os.Open(path) //nolint:gosec
	if err != nil {
		return "", imgerr.Wrap(imgerr.Upload, err, "unable to upload image")
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Error(err, "failed to close image file", "path", path)
		}
	}()

	info, err := file.Stat()
	if err != nil {
		return "", imgerr.Wrap(imgerr.Upload, err, "unable to upload image")
	}

	if exists {
		log.Info("Replacing existing blob", "blob", name, "bucket", c.bucketName)
		if _, err := c.Delete(ctx, name); err != nil {
			return "", imgerr.Wrap(imgerr.Upload, err, "unable to upload image")
		}
	}

	reporter := opts.Progress
	if reporter == nil {
		reporter = progress.Nop
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = c.chunkSize
	}

	log.Info("Starting to upload image", "blob", name, "bucket", c.bucketName, "path", path, "size", info.Size())

	if err := c.multipartUpload(ctx, name, file, info.Size(), chunkSize, reporter); err != nil {
		return "", uploadError(err)
	}

	if err := c.WaitForVisible(ctx, name); err != nil {
		return "", err
	}

	log.Info("Completed upload of image", "blob", name, "bucket", c.bucketName)
	return name, nil
}

func (c *Client) multipartUpload(ctx context.Context, name string, file io.ReaderAt, total, chunkSize int64, reporter progress.Reporter) error {
	log := log.FromContext(ctx)

	created, err := c.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("failed to initiate multipart upload: %w", err)
	}
	uploadID := created.UploadId

	abort := func(cause error) error {
		_, err := c.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(c.bucketName),
			Key:      aws.String(name),
			UploadId: uploadID,
		})
		if err != nil {
			log.Error(err, "failed to abort multipart upload", "blob", name, "uploadID", aws.ToString(uploadID))
		}
		return cause
	}

	partSize := PartSize(total, chunkSize)
	reporter.Update(0, total)
	defer reporter.Done()

	var parts []types.CompletedPart
	var offset int64
	for number := int32(1); offset < total || number == 1; number++ {
		size := min(partSize, total-offset)

		body := make([]byte, size)
		if n, err := file.ReadAt(body, offset); err != nil && (!errors.Is(err, io.EOF) || int64(n) < size) {
			return abort(fmt.Errorf("failed to read part %d: %w", number, err))
		}
		sum := md5.Sum(body) //nolint:gosec

		out, err := c.api.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(c.bucketName),
			Key:           aws.String(name),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(number),
			ContentLength: aws.Int64(size),
			ContentMD5:    aws.String(base64.StdEncoding.EncodeToString(sum[:])),
			Body:          bytes.NewReader(body),
		})
		if err != nil {
			return abort(fmt.Errorf("failed to upload part %d: %w", number, err))
		}

		parts = append(parts, types.CompletedPart{
			ETag:       out.ETag,
			PartNumber: aws.Int32(number),
		})
		offset += size
		reporter.Update(size, total)
	}

	_, err = c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(c.bucketName),
		Key:      aws.String(name),
		UploadId: uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: parts,
		},
	})
	if err != nil {
		return abort(fmt.Errorf("failed to complete multipart upload: %w", err))
	}
	return nil
}

// uploadError surfaces the message reported by the server when there is one.
func uploadError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorMessage() != "" {
		return imgerr.Wrap(imgerr.Upload, err, "unable to upload image: %s", apiErr.ErrorMessage())
	}
	return imgerr.Wrap(imgerr.Upload, err, "unable to upload image")
}
