package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"glasswally/internal/config"
)

// S3Archiver periodically uploads a copy of each dispatcher sink file to
// a cold-storage bucket, keyed by sink name and upload time. Grounded on
// the teacher's internal/storage/s3.Client Upload path, narrowed to the
// one operation this system needs: snapshotting append-only JSONL files.
type S3Archiver struct {
	client *s3.Client
	cfg    config.S3Config
	log    *slog.Logger
}

// NewS3Archiver loads AWS credentials from the default provider chain
// (environment, shared config, or IAM role) and builds a client against
// cfg.Bucket.
func NewS3Archiver(ctx context.Context, cfg config.S3Config, log *slog.Logger) (*S3Archiver, error) {
	if log == nil {
		log = slog.Default()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}

	return &S3Archiver{
		client: s3.NewFromConfig(awsCfg, opts...),
		cfg:    cfg,
		log:    log,
	}, nil
}

// UploadSink reads sinkPath in full and puts it to the bucket under
// <prefix><sinkName>/<timestamp>.jsonl. The sink stays open and
// appendable on the dispatcher side; this takes a point-in-time copy.
func (a *S3Archiver) UploadSink(ctx context.Context, sinkName, sinkPath string, at time.Time) error {
	data, err := os.ReadFile(sinkPath)
	if err != nil {
		return fmt.Errorf("archive: read sink %s: %w", sinkName, err)
	}
	if len(data) == 0 {
		return nil
	}

	key := filepath.Join(a.cfg.Prefix, sinkName, at.UTC().Format("20060102T150405")+".jsonl")
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: upload sink %s: %w", sinkName, err)
	}
	a.log.Debug("archived sink to s3", "sink", sinkName, "key", key, "bytes", len(data))
	return nil
}

// Run uploads every JSONL file under outputDir on cfg.UploadEvery until
// ctx is canceled.
func (a *S3Archiver) Run(ctx context.Context, outputDir string) error {
	ticker := time.NewTicker(a.cfg.UploadEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			entries, err := os.ReadDir(outputDir)
			if err != nil {
				a.log.Error("archive: list output dir", "error", err)
				continue
			}
			for _, entry := range entries {
				if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
					continue
				}
				sinkName := entry.Name()[:len(entry.Name())-len(".jsonl")]
				path := filepath.Join(outputDir, entry.Name())
				if err := a.UploadSink(ctx, sinkName, path, now); err != nil {
					a.log.Error("archive: upload sink", "sink", sinkName, "error", err)
				}
			}
		}
	}
}
