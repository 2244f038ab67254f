// internal/services/storage_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"

	"github.com/javajoker/license-desk/internal/config"
)

// FileStore persists uploaded files and returns their public URL.
type FileStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
	Delete(ctx context.Context, key string) error
}

// StorageService stores files in S3, or on local disk when no AWS
// credentials are configured.
type StorageService struct {
	s3Client *s3.S3
	config   *config.Config
}

type UploadOptions struct {
	Folder       string
	MaxSize      int64 // in bytes
	AllowedTypes []string
}

func NewStorageService(config *config.Config) (*StorageService, error) {
	if config.AWS.AccessKeyID == "" {
		// Return service without S3 for local development
		return &StorageService{config: config}, nil
	}

	// Create AWS session
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(config.AWS.Region),
		Credentials: credentials.NewStaticCredentials(
			config.AWS.AccessKeyID,
			config.AWS.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &StorageService{
		s3Client: s3.New(sess),
		config:   config,
	}, nil
}

func (s *StorageService) Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	if s.s3Client != nil {
		return s.uploadToS3(ctx, key, contentType, body, size)
	}
	return s.uploadToLocal(key, body)
}

func (s *StorageService) uploadToS3(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(body, size+1))
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	_, err = s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.config.AWS.S3Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	return s.getS3URL(key), nil
}

func (s *StorageService) uploadToLocal(key string, body io.Reader) (string, error) {
	path := filepath.Join(s.config.AWS.LocalUploadDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, body); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return fmt.Sprintf("/uploads/%s", key), nil
}

func (s *StorageService) Delete(ctx context.Context, key string) error {
	if s.s3Client == nil {
		path := filepath.Join(s.config.AWS.LocalUploadDir, filepath.FromSlash(key))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete local file: %w", err)
		}
		return nil
	}

	_, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.AWS.S3Bucket),
		Key:    aws.String(key),
	})

	if err != nil {
		return fmt.Errorf("failed to delete file from S3: %w", err)
	}

	return nil
}

// ProofUploadOptions are the limits applied to proof-of-purchase files.
func ProofUploadOptions(maxSizeMB int) UploadOptions {
	return UploadOptions{
		Folder:       "procurements",
		MaxSize:      int64(maxSizeMB) * 1024 * 1024,
		AllowedTypes: []string{".jpg", ".jpeg", ".png", ".pdf", ".doc", ".docx"},
	}
}

// allowedProofContentTypes maps accepted MIME types to their extensions.
var allowedProofContentTypes = map[string][]string{
	"image/jpeg":         {".jpg", ".jpeg"},
	"image/png":          {".png"},
	"application/pdf":    {".pdf"},
	"application/msword": {".doc"},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {".docx"},
}

// ValidateUpload checks a file's size, extension and declared MIME type.
func ValidateUpload(fileName, contentType string, size int64, options UploadOptions) error {
	if size <= 0 {
		return ErrInvalidFile.Withf("file %s is empty", fileName)
	}
	if options.MaxSize > 0 && size > options.MaxSize {
		return ErrInvalidFile.Withf("file %s is %d bytes, exceeding the maximum of %d bytes", fileName, size, options.MaxSize)
	}

	fileExt := strings.ToLower(filepath.Ext(fileName))
	allowed := false
	for _, allowedType := range options.AllowedTypes {
		if fileExt == allowedType {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrInvalidFile.Withf("file type %s is not allowed", fileExt)
	}

	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	extensions, ok := allowedProofContentTypes[mediaType]
	if !ok {
		return ErrInvalidFile.Withf("content type %s is not allowed", contentType)
	}
	for _, ext := range extensions {
		if ext == fileExt {
			return nil
		}
	}
	return ErrInvalidFile.Withf("file extension %s does not match content type %s", fileExt, mediaType)
}

// generateFileKey keeps only the extension of the uploaded name; proof keys
// are date-prefixed and unguessable.
func generateFileKey(originalName, folder string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	filename := fmt.Sprintf("%s_%s%s", time.Now().UTC().Format("20060102"), uuid.NewString(), ext)

	if folder != "" {
		return path.Join(folder, filename)
	}
	return filename
}

func (s *StorageService) getS3URL(key string) string {
	if s.config.AWS.CloudFrontURL != "" {
		return fmt.Sprintf("%s/%s", s.config.AWS.CloudFrontURL, key)
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s",
		s.config.AWS.S3Bucket, s.config.AWS.Region, key)
}
