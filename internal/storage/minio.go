package storage

import (
	"context"
	"errors"
	"fmt"
	"github.com/MuhamedUsman/adminplane/internal/config"
	"github.com/MuhamedUsman/adminplane/internal/domain"
	"github.com/MuhamedUsman/adminplane/internal/logging"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"
)

const (
	metaName = "Name"
	metaUser = "User"
)

// Minio stores objects as <bucket>/<domain>/<id> with name and user kept as user metadata.
type Minio struct {
	client  *minio.Client
	bucket  string
	tempDir string
	log     *slog.Logger
}

func NewMinio(ctx context.Context, cfg config.MinioConfig, tempDir string, log *slog.Logger) (*Minio, error) {
	if log == nil {
		log = logging.Discard()
	}
	if cfg.Bucket == "" {
		return nil, errors.New("minio bucket must be set")
	}
	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("minio endpoint: %w", err)
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure || cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking minio bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("minio bucket does not exist: %s", cfg.Bucket)
	}
	log.Info("MinIO file storage", "endpoint", endpoint, "bucket", cfg.Bucket)
	return &Minio{client: client, bucket: cfg.Bucket, tempDir: tempDir, log: log}, nil
}

// normaliseEndpoint accepts either "host:port" or "http(s)://host:port".
func normaliseEndpoint(raw string) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, errors.New("empty endpoint")
	}
	if !strings.Contains(raw, "://") {
		return raw, false, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, err
	}
	if u.Host == "" {
		return "", false, errors.New("invalid endpoint")
	}
	if u.Path != "" && u.Path != "/" {
		return "", false, errors.New("endpoint must not contain a path")
	}
	return u.Host, u.Scheme == "https", nil
}

func objectKey(id, d string) string {
	return path.Join(domainDir(d), id)
}

func (m *Minio) Store(ctx context.Context, p, name, user, d string) (string, error) {
	id := uuid.NewString()
	opts := minio.PutObjectOptions{
		ContentType: "application/octet-stream",
		UserMetadata: map[string]string{
			metaName: SanitizeName(name),
			metaUser: user,
		},
	}
	if _, err := m.client.FPutObject(ctx, m.bucket, objectKey(id, d), p, opts); err != nil {
		return "", fmt.Errorf("uploading object: %w", err)
	}
	return id, nil
}

func (m *Minio) Find(ctx context.Context, id, d string) (*domain.Download, error) {
	if uuid.Validate(id) != nil {
		return nil, ErrNotFound
	}
	key := objectKey(id, d)
	info, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, m.translate(err)
	}
	tmp, err := tempCopyPath(m.tempDir)
	if err != nil {
		return nil, err
	}
	if err = m.client.FGetObject(ctx, m.bucket, key, tmp, minio.GetObjectOptions{}); err != nil {
		_ = os.Remove(tmp)
		return nil, m.translate(err)
	}
	name := metadata(info.UserMetadata, metaName)
	if name == "" {
		name = id
	}
	return &domain.Download{FileID: id, FileName: name, Path: tmp, Domain: d}, nil
}

func (m *Minio) Delete(ctx context.Context, id, d string) (bool, error) {
	if uuid.Validate(id) != nil {
		return false, nil
	}
	key := objectKey(id, d)
	if _, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{}); err != nil {
		if err = m.translate(err); errors.Is(err, ErrNotFound) {
			m.log.Warn("Object not found and not deleted", "key", key)
			return false, nil
		}
		return false, err
	}
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return false, fmt.Errorf("removing object: %w", err)
	}
	return true, nil
}

func (m *Minio) translate(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return fmt.Errorf("minio: %w", err)
}

// metadata looks key up ignoring case and the x-amz-meta- prefix servers may return.
func metadata(md map[string]string, key string) string {
	for k, v := range md {
		k = strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		if k == strings.ToLower(key) {
			return v
		}
	}
	return ""
}
