// Package archive uploads expired snapshots to S3-compatible object storage
// (AWS S3, MinIO, Cloudflare R2, iDrive e2) before they are pruned locally.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rewired-gh/sitwatch/internal/models"
)

type ClientConfig struct {
	// Endpoint is the S3-compatible endpoint URL. Leave empty for AWS S3.
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// UseSSL picks the scheme when Endpoint has none.
	UseSSL         bool
	ForcePathStyle bool
	// Prefix is prepended to every object key.
	Prefix string
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes snapshots as JSON Lines, one object per UTC day per call.
type S3Archiver struct {
	client objectPutter
	bucket string
	prefix string
}

func New(ctx context.Context, cfg ClientConfig) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("archive: region is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := normaliseEndpoint(cfg.Endpoint, cfg.UseSSL)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return newWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.Prefix), nil
}

func newWithClient(client objectPutter, bucket, prefix string) *S3Archiver {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

// ArchiveSnapshots uploads snaps grouped by UTC day. Keys look like
// <prefix>snapshots/2026/10/08/<firstMillis>-<lastMillis>.jsonl.
func (a *S3Archiver) ArchiveSnapshots(ctx context.Context, snaps []models.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	sorted := append([]models.Snapshot(nil), snaps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	for start := 0; start < len(sorted); {
		day := sorted[start].Timestamp.UTC().Format("2006/01/02")
		end := start + 1
		for end < len(sorted) && sorted[end].Timestamp.UTC().Format("2006/01/02") == day {
			end++
		}
		if err := a.putDay(ctx, day, sorted[start:end]); err != nil {
			return err
		}
		start = end
	}
	return nil
}

func (a *S3Archiver) putDay(ctx context.Context, day string, snaps []models.Snapshot) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range snaps {
		if err := enc.Encode(&snaps[i]); err != nil {
			return fmt.Errorf("archive: encode snapshot: %w", err)
		}
	}

	key := fmt.Sprintf("%ssnapshots/%s/%d-%d.jsonl", a.prefix, day,
		snaps[0].Timestamp.UnixMilli(), snaps[len(snaps)-1].Timestamp.UnixMilli())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: put object %s: %w", key, err)
	}
	return nil
}

func normaliseEndpoint(endpoint string, useSSL bool) string {
	// url.Parse reads "host:port" as scheme:opaque, so look for "://" instead.
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return scheme + "://" + endpoint
}
