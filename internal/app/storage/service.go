/*
Package storage provides the object storage backend for chat attachments.

Uploads and downloads never pass through this server: clients talk directly to
the S3-compatible backend using short-lived presigned URLs issued here.
*/
package storage

import (
	"context"
	"time"
)

// ServiceConfig holds the settings required to reach the storage backend.
type ServiceConfig struct {
	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// Service is the public interface for the attachment storage backend.
type Service interface {
	// PresignUpload generates a presigned URL for uploading one file.
	PresignUpload(ctx context.Context, key string, mimeType string, fileSize int64, duration time.Duration) (string, error)

	// PresignDownload generates a presigned URL for downloading one file.
	PresignDownload(ctx context.Context, key string, duration time.Duration) (string, error)

	// Delete removes the object with the given key.
	Delete(ctx context.Context, key string) error
}

// NewService is the factory for Service. Only S3-compatible backends are
// currently supported.
func NewService(cfg ServiceConfig) (Service, error) {
	return newS3Service(cfg)
}
