package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
)

type Client struct {
	mc *minio.Client
}

func New(endpoint, accessKey, secretKey string, useSSL bool) (*Client, error) {
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, err
	}
	return &Client{mc: mc}, nil
}

// EnsureBucket creates bucket when it does not exist yet.
func (c *Client) EnsureBucket(ctx context.Context, bucket string) error {
	ok, err := c.mc.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if ok {
		return nil
	}
	if err := c.mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

// GetReport downloads and decodes an archived pipeline report.
func (c *Client) GetReport(ctx context.Context, bucket, key string) (*model.PipelineReport, error) {
	obj, err := c.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	var r model.PipelineReport
	if err := json.NewDecoder(obj).Decode(&r); err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) {
			return nil, fmt.Errorf("get report %s/%s: %s", bucket, key, resp.Code)
		}
		return nil, fmt.Errorf("decode report %s/%s: %w", bucket, key, err)
	}
	return &r, nil
}

// Archive writes finished reports to one bucket, one object per natural key.
type Archive struct {
	client *Client
	Bucket string
}

func NewArchive(c *Client, bucket string) *Archive {
	return &Archive{client: c, Bucket: bucket}
}

func (a *Archive) PutReport(ctx context.Context, r *model.PipelineReport) (string, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	key := ReportKey(r.Key)
	_, err = a.client.mc.PutObject(ctx, a.Bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("upload report %s: %w", key, err)
	}
	return key, nil
}

// ReportKey is reports/<ecosystem>/<package>/<version_range>.json, or
// reports/cve/<id>.json. Segments are path-escaped so scoped npm names and
// range operators stay inside their segment.
func ReportKey(k model.NaturalKey) string {
	if k.IsCVE() {
		return "reports/cve/" + segment(k.CVEID) + ".json"
	}
	return strings.Join([]string{"reports", segment(k.Ecosystem), segment(k.Package), segment(k.VersionRange) + ".json"}, "/")
}

func segment(s string) string {
	if s == "" {
		return "_"
	}
	return url.PathEscape(s)
}
