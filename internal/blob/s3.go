package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// s3KeyPrefix namespaces edit images inside the shared media bucket.
const s3KeyPrefix = "edits/images/"

// S3Store keeps blobs as objects in one bucket.
type S3Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
}

var (
	_ Store     = (*S3Store)(nil)
	_ Presigner = (*S3Store)(nil)
)

// NewS3Store creates a store over bucket. presigner may be nil, in which
// case PresignURL fails.
func NewS3Store(client *s3.Client, presigner *s3.PresignClient, bucket string) *S3Store {
	return &S3Store{client: client, presigner: presigner, bucket: bucket}
}

// Bucket returns the backing bucket, for startup logging.
func (s *S3Store) Bucket() string { return s.bucket }

func s3Key(id string) string { return s3KeyPrefix + id }

func (s *S3Store) Save(ctx context.Context, data []byte, contentType string) (string, error) {
	id := NewID()
	key := s3Key(id)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	log.Debug().Str("key", key).Int("bytes", len(data)).Str("contentType", contentType).Msg("Blob uploaded to S3")
	return id, nil
}

func (s *S3Store) Load(ctx context.Context, id string) ([]byte, error) {
	key := s3Key(id)
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("load %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("S3 GetObject %s: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read S3 object %s: %w", key, err)
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, id string) error {
	key := s3Key(id)
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		return fmt.Errorf("S3 DeleteObject %s: %w", key, err)
	}
	return nil
}

// PresignURL creates a pre-signed GET URL for the blob.
func (s *S3Store) PresignURL(ctx context.Context, id string, expiry time.Duration) (string, error) {
	if s.presigner == nil {
		return "", errors.New("presign: no presign client configured")
	}
	key := s3Key(id)
	result, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket, Key: &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return result.URL, nil
}
