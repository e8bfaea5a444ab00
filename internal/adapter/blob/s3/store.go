// Package s3 implements port.BlobStore against Amazon S3.
package s3

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/bkyoung/review-orchestrator/internal/domain"
)

// API is the subset of the S3 client this adapter calls.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// PresignAPI is the subset of the S3 presign client this adapter calls.
type PresignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store implements port.BlobStore for the orchestrator's report and
// result blobs.
type Store struct {
	api     API
	presign PresignAPI
	bucket  string
}

// NewStore builds a Store backed by bucket.
func NewStore(api API, presign PresignAPI, bucket string) *Store {
	return &Store{api: api, presign: presign, bucket: bucket}
}

func (s *Store) Put(ctx context.Context, key, contentType string, body []byte) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	return wrapErr(err)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, domain.NewEncodingError("s3", "read object body: "+err.Error())
	}
	return data, nil
}

func (s *Store) PresignGetObject(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(po *s3.PresignOptions) { po.Expires = ttl })
	if err != nil {
		return "", wrapErr(err)
	}
	return req.URL, nil
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	return domain.MapHTTPStatus("s3", 0, err.Error())
}
