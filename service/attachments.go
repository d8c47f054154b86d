package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/linhnguyen0702/contractledger/config"
	"github.com/linhnguyen0702/contractledger/model"
)

// AttachmentService stores contract files in MinIO.
type AttachmentService struct {
	client *minio.Client
	bucket string
	config *config.MinioConfig
}

func NewAttachmentService(cfg *config.MinioConfig) (*AttachmentService, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &AttachmentService{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *AttachmentService) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// Upload stores a file under contracts/<id>/ and returns the attachment
// record to link on the contract.
func (s *AttachmentService) Upload(ctx context.Context, contractID, originalName string, reader io.Reader, size int64, contentType string) (*model.Attachment, error) {
	filename := uuid.New().String() + filepath.Ext(originalName)
	objectName := fmt.Sprintf("contracts/%s/%s", contractID, filename)

	_, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}

	return &model.Attachment{
		Filename:     filename,
		OriginalName: originalName,
		ObjectName:   objectName,
		Size:         size,
		UploadedAt:   time.Now(),
	}, nil
}

// GetPresignedURL generates a download URL that expires after 24 hours
func (s *AttachmentService) GetPresignedURL(ctx context.Context, objectName string) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, 24*time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url.String(), nil
}

// Delete removes a stored file
func (s *AttachmentService) Delete(ctx context.Context, objectName string) error {
	err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}
