package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/storage/s3/v2"
)

const presignExpiry = 15 * time.Minute

// MaxPictureSize bounds uploaded profile pictures.
const MaxPictureSize = 5 << 20

var ErrBlobNotFound = errors.New("blob not found")

// Picture is an uploaded profile picture.
type Picture struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Blobs is the object store holding entry pictures.
type Blobs interface {
	// Upload stores data under key and returns a reference to it.
	Upload(ctx context.Context, key string, pic *Picture) (string, error)

	// Delete removes the object stored under key.
	Delete(ctx context.Context, key string) error

	// PresignGet returns a short lived URL to download key.
	PresignGet(ctx context.Context, key string) (string, error)
}

// PictureKey is the object key for the picture of an entry. A new upload for
// the same entry overwrites the previous object.
func PictureKey(entryID uint) string {
	return fmt.Sprintf("pictures/entry-%d", entryID)
}

var pictureTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// IsPictureAllowed checks the extension and declared content type of an upload.
func IsPictureAllowed(filename, contentType string) bool {
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return false
	}
	_, ok := pictureTypes[strings.ToLower(path.Ext(filename))]
	return ok
}

// MediaType is the declared content type, or the one implied by the file
// extension when the client sent none.
func (p *Picture) MediaType() string {
	if p.ContentType != "" {
		return p.ContentType
	}
	if t, ok := pictureTypes[strings.ToLower(path.Ext(p.Filename))]; ok {
		return t
	}
	return "application/octet-stream"
}

type s3Blobs struct {
	storage   *s3.Storage
	bucket    string
	publicURL string
}

// NewS3Blobs wraps a gofiber S3 storage. References returned by Upload are
// publicURL/key; when publicURL is empty they are endpoint/bucket/key.
func NewS3Blobs(storage *s3.Storage, bucket, endpoint, publicURL string) Blobs {
	if publicURL == "" {
		publicURL = strings.TrimRight(endpoint, "/") + "/" + bucket
	}
	return &s3Blobs{
		storage:   storage,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

func (s *s3Blobs) Upload(ctx context.Context, key string, pic *Picture) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	// Storage.Set cannot carry a content type.
	if _, err := s.storage.Conn().PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(pic.Data),
		ContentType: aws.String(pic.MediaType()),
	}); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return s.publicURL + "/" + key, nil
}

func (s *s3Blobs) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.storage.Delete(key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *s3Blobs) PresignGet(ctx context.Context, key string) (string, error) {
	presignClient := awss3.NewPresignClient(s.storage.Conn())

	req, err := presignClient.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, awss3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}

	return req.URL, nil
}
