package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds the configuration for the report archive.
type S3Config struct {
	Endpoint        string
	Bucket          string
	Region          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// Object is one archived report.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ReportStore archives runbook reports and journal exports in S3-compatible
// object storage.
type ReportStore struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewReportStore creates a store. Static keys are used when both are set;
// otherwise credentials come from the default AWS chain.
func NewReportStore(ctx context.Context, cfg S3Config) (*ReportStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.Region = cfg.Region
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
				// Most S3-compatible servers reject the newer default checksums.
				o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
				o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
			}
		},
	}

	var client *s3.Client
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, func(o *s3.Options) {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		})
		client = s3.New(s3.Options{}, opts...)
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = s3.NewFromConfig(awsCfg, opts...)
	}

	return &ReportStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ReportKey returns the object key for a report of the given kind, e.g.
// "runbook" or "journal". Keys sort by time within a kind.
func (s *ReportStore) ReportKey(kind, name string, at time.Time) string {
	file := fmt.Sprintf("%s-%s.json", at.UTC().Format("20060102T150405Z"), name)
	return path.Join(s.prefix, kind, file)
}

// Put uploads data under key and returns its size.
func (s *ReportStore) Put(ctx context.Context, key string, data []byte, contentType string) (int64, error) {
	if contentType == "" {
		contentType = "application/json"
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload report to S3: %w", err)
	}
	return int64(len(data)), nil
}

// Get returns the object stored under key.
func (s *ReportStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download report from S3: %w", err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// List returns the archived objects of one kind, or all kinds if kind is empty.
func (s *ReportStore) List(ctx context.Context, kind string) ([]Object, error) {
	prefix := s.prefix
	if kind != "" {
		prefix = path.Join(prefix, kind)
	}
	if prefix != "" {
		prefix += "/"
	}

	var out []Object
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list reports in S3: %w", err)
		}
		for _, obj := range page.Contents {
			o := Object{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				o.LastModified = *obj.LastModified
			}
			out = append(out, o)
		}
	}
	return out, nil
}

// Delete removes an archived object.
func (s *ReportStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete report from S3: %w", err)
	}
	return nil
}
