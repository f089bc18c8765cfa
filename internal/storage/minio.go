package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"adreel/internal/config"
	"adreel/internal/engine"
)

// ArtifactStore 把外部服务返回的临时URL转存到MinIO，得到稳定可签名的句柄。
// Ark返回的产物URL会过期，checkpoint里必须存自己的副本
type ArtifactStore struct {
	client *minio.Client
	bucket string
	http   *http.Client
	log    *logrus.Entry
}

func NewArtifactStore() (*ArtifactStore, error) {
	cfg := config.AppConfig.MinIO
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio init: %w", err)
	}
	return &ArtifactStore{
		client: client,
		bucket: cfg.Bucket,
		http:   &http.Client{Timeout: 2 * time.Minute},
		log:    logrus.WithField("component", "artifact_store"),
	}, nil
}

// Persist 下载sourceURL并上传为objectName，返回72小时有效的预签名URL。
// data: URL（mock模式产物）原样返回，不需要转存
func (a *ArtifactStore) Persist(ctx context.Context, sourceURL, objectName string) (string, error) {
	if strings.HasPrefix(sourceURL, "data:") {
		return sourceURL, nil
	}

	resp, err := a.http.Get(sourceURL)
	if err != nil {
		return "", &engine.TransientError{Reason: "download artifact", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", engine.Transientf("download artifact status %d", resp.StatusCode)
	}

	return a.Upload(ctx, resp.Body, objectName, resp.ContentLength)
}

// Upload 从io.Reader上传到MinIO，size为-1表示未知大小
func (a *ArtifactStore) Upload(ctx context.Context, reader io.Reader, objectName string, size int64) (string, error) {
	// 确保Bucket存在
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return "", &engine.TransientError{Reason: "check bucket", Err: err}
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return "", &engine.TransientError{Reason: "create bucket", Err: err}
		}
		a.log.Infof("bucket %s created", a.bucket)
	}

	contentType := "application/octet-stream"
	switch filepath.Ext(objectName) {
	case ".jpg", ".jpeg":
		contentType = "image/jpeg"
	case ".png":
		contentType = "image/png"
	case ".webp":
		contentType = "image/webp"
	case ".mp4":
		contentType = "video/mp4"
	}

	_, err = a.client.PutObject(ctx, a.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", &engine.TransientError{Reason: "upload artifact", Err: err}
	}

	expiry := time.Hour * 72
	presignedURL, err := a.client.PresignedGetObject(ctx, a.bucket, objectName, expiry, make(url.Values))
	if err != nil {
		return "", &engine.TransientError{Reason: "presign artifact", Err: err}
	}

	a.log.Debugf("artifact uploaded: %s", objectName)
	return presignedURL.String(), nil
}
