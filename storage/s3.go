package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"time"

	"grant-scout/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewS3Client erstellt den S3-Client für das Run-Archiv (beliebiger
// S3-kompatibler Endpoint, nicht zwingend AWS).
func NewS3Client(cfg *config.Config) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.ArchiveS3URL,
				SigningRegion:     cfg.ArchiveS3Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.ArchiveS3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.ArchiveS3Key, cfg.ArchiveS3Secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

// S3Archiver legt finalisierte Run-Logs gzip-komprimiert im Bucket ab.
type S3Archiver struct {
	Client *s3.Client
	Config *config.Config
}

// NewS3Archiver erstellt den Archiver.
func NewS3Archiver(client *s3.Client, cfg *config.Config) *S3Archiver {
	return &S3Archiver{Client: client, Config: cfg}
}

// ArchiveRunLog schreibt das Payload nach runs/<source>/<datum>-<runID>.json.gz
// und gibt den Objekt-Link zurück.
func (a *S3Archiver) ArchiveRunLog(ctx context.Context, source, runID string, payload []byte) (string, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}

	key := fmt.Sprintf("runs/%s/%s-%s.json.gz", source, time.Now().UTC().Format("2006-01-02"), runID)
	_, err := a.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.Config.ArchiveS3Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", a.Config.ArchiveS3URL, a.Config.ArchiveS3Bucket, key), nil
}
