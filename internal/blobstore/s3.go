// Package blobstore предоставляет клиент объектного хранилища изображений (S3-совместимого).
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config содержит параметры подключения к объектному хранилищу.
type Config struct {
	Endpoint      string
	Region        string
	Bucket        string
	AccessKeyID   string
	SecretKey     string
	PublicBaseURL string
}

// UploadResult описывает результат загрузки объекта.
type UploadResult struct {
	URL  string
	Key  string
	Size int64
}

// Client обёртывает S3-клиент для загрузки и удаления изображений.
type Client struct {
	s3Client *s3.Client
	cfg      Config
}

// NewClient создаёт клиент объектного хранилища.
// Для не-AWS эндпоинтов (MinIO, Backblaze) включается path-style адресация.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blobstore bucket is not configured")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{
		s3Client: s3Client,
		cfg:      cfg,
	}, nil
}

// Upload загружает объект по указанному ключу и возвращает его публичный URL.
func (c *Client) Upload(ctx context.Context, data []byte, key, contentType string) (*UploadResult, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("upload data is empty")
	}

	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", key, err)
	}

	return &UploadResult{
		URL:  c.publicURL(key),
		Key:  key,
		Size: int64(len(data)),
	}, nil
}

// Delete удаляет объект по ключу.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (c *Client) publicURL(key string) string {
	base := c.cfg.PublicBaseURL
	if base == "" {
		if c.cfg.Endpoint != "" {
			base = fmt.Sprintf("%s/%s", strings.TrimRight(c.cfg.Endpoint, "/"), c.cfg.Bucket)
		} else {
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", c.cfg.Bucket, c.cfg.Region)
		}
	}
	return fmt.Sprintf("%s/%s", strings.TrimRight(base, "/"), key)
}
