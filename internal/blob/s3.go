// s3.go — backend S3-совместимого хранилища через minio-go.
package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options — параметры подключения к S3-совместимому хранилищу.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string //nolint:gosec // G101: поле структуры, не содержит секрет напрямую
	Region    string
	UseSSL    bool
	Bucket    string
}

// S3Store — контейнер файлов в bucket S3.
// Ссылка на объект: <endpoint>/<bucket>/<key>.
type S3Store struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewS3Store создаёт клиент S3. Подключение не проверяется:
// bucket создаётся отдельно через EnsureBucket.
func NewS3Store(opts S3Options, logger *slog.Logger) (*S3Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("создание S3-клиента %s: %w", opts.Endpoint, err)
	}

	return &S3Store{
		client: client,
		bucket: opts.Bucket,
		logger: logger.With(slog.String("component", "blob_s3")),
	}, nil
}

// EnsureBucket создаёт bucket, если он ещё не существует.
func (s *S3Store) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("проверка bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("создание bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("Bucket создан", slog.String("bucket", s.bucket))
	return nil
}

// Upload загружает объект в bucket.
func (s *S3Store) Upload(ctx context.Context, key, contentType string, r io.Reader, size int64) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("загрузка %s в bucket %s: %w", key, s.bucket, err)
	}

	s.logger.Debug("Объект загружен",
		slog.String("key", key),
		slog.Int64("size", info.Size),
	)
	return s.URL(key), nil
}

// Open открывает объект по ссылке или ключу.
func (s *S3Store) Open(ctx context.Context, ref string) (*File, error) {
	key, err := s.KeyFromRef(ref)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("чтение %s: %w", key, err)
	}

	// GetObject ленивый: наличие объекта проверяется через Stat.
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("получение информации об объекте %s: %w", key, err)
	}

	contentType := info.ContentType
	if contentType == "" {
		contentType = ContentTypeByName(key)
	}

	return &File{
		Name:        path.Base(key),
		ContentType: contentType,
		Size:        info.Size,
		Body:        obj,
	}, nil
}

// URL возвращает ссылку на объект.
func (s *S3Store) URL(key string) string {
	u := *s.client.EndpointURL()
	u.Path = "/" + s.bucket + "/" + key
	return u.String()
}

// KeyFromRef извлекает ключ объекта из ссылки <endpoint>/<bucket>/<key>.
// Ссылка без схемы трактуется как ключ.
func (s *S3Store) KeyFromRef(ref string) (string, error) {
	if p, ok := stripScheme(ref); ok {
		if decoded, err := url.PathUnescape(p); err == nil {
			p = decoded
		}
		prefix := "/" + s.bucket + "/"
		if !strings.HasPrefix(p, prefix) {
			return "", fmt.Errorf("%w: ссылка %q вне bucket %s", ErrInvalidKey, ref, s.bucket)
		}
		ref = strings.TrimPrefix(p, prefix)
	}
	return CleanKey(ref)
}
