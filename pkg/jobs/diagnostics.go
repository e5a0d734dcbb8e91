package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// LogStore persists a job's captured stdout/stderr when a handler chooses
// to attach one, keyed by job id. Optional — an Engine with no LogStore
// configured simply drops any attached logs.
type LogStore interface {
	Store(ctx context.Context, jobID string, logs []byte) (string, error)
	Retrieve(ctx context.Context, reference string) ([]byte, error)
}

// HandlerError lets a Handler attach a classifier code, an HTTP status, and
// captured diagnostic output to a failure. Code/HTTPStatus are looked up by
// the engine's classifier ahead of Err's message (§4.A steps 1-3 before the
// message-pattern fallback); the engine persists Logs via the configured
// LogStore (if any) and records the resulting reference on JobError.Stack.
type HandlerError struct {
	Err        error
	Code       string
	HTTPStatus int
	Logs       []byte
}

func (e *HandlerError) Error() string { return e.Err.Error() }
func (e *HandlerError) Unwrap() error { return e.Err }

// S3LogStore stores logs in S3-compatible storage, with an optional local
// cache for frequently accessed entries.
type S3LogStore struct {
	client     *s3.Client
	bucket     string
	prefix     string
	localCache string
}

// S3LogStoreConfig holds S3 configuration.
type S3LogStoreConfig struct {
	Bucket          string
	Prefix          string // e.g., "logs/jobs/"
	Region          string
	Endpoint        string // For MinIO/local S3
	AccessKeyID     string
	SecretAccessKey string
	LocalCacheDir   string
}

// NewS3LogStore creates a new S3-backed log store.
func NewS3LogStore(cfg S3LogStoreConfig) (*S3LogStore, error) {
	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // required for MinIO
		})
	}
	client := s3.NewFromConfig(awsCfg, clientOpts...)

	if cfg.LocalCacheDir != "" {
		if err := os.MkdirAll(cfg.LocalCacheDir, 0755); err != nil {
			return nil, fmt.Errorf("create log cache directory: %w", err)
		}
	}

	return &S3LogStore{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		localCache: cfg.LocalCacheDir,
	}, nil
}

func (s *S3LogStore) Store(ctx context.Context, jobID string, logs []byte) (string, error) {
	key := s.buildKey(jobID)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(logs),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return "", fmt.Errorf("upload job logs to S3: %w", err)
	}

	if s.localCache != "" {
		cachePath := filepath.Join(s.localCache, jobID+".log")
		_ = os.WriteFile(cachePath, logs, 0644)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3LogStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	key := s.extractKey(reference)

	if s.localCache != "" {
		cachePath := filepath.Join(s.localCache, filepath.Base(key))
		if data, err := os.ReadFile(cachePath); err == nil {
			return data, nil
		}
	}

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get job logs from S3: %w", err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("read job logs: %w", err)
	}

	if s.localCache != "" {
		cachePath := filepath.Join(s.localCache, filepath.Base(key))
		_ = os.WriteFile(cachePath, data, 0644)
	}

	return data, nil
}

func (s *S3LogStore) buildKey(jobID string) string {
	timestamp := time.Now().Format("2006/01/02")
	return fmt.Sprintf("%s%s/%s.log", s.prefix, timestamp, jobID)
}

func (s *S3LogStore) extractKey(reference string) string {
	if len(reference) > 5 && reference[:5] == "s3://" {
		parts := reference[5:]
		for i, c := range parts {
			if c == '/' {
				return parts[i+1:]
			}
		}
	}
	return reference
}

// LocalLogStore stores logs on the local filesystem, for development or
// single-node deployments.
type LocalLogStore struct {
	basePath string
}

// NewLocalLogStore creates a local filesystem log store.
func NewLocalLogStore(basePath string) (*LocalLogStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &LocalLogStore{basePath: basePath}, nil
}

func (l *LocalLogStore) Store(ctx context.Context, jobID string, logs []byte) (string, error) {
	path := filepath.Join(l.basePath, jobID+".log")
	if err := os.WriteFile(path, logs, 0644); err != nil {
		return "", fmt.Errorf("write job logs: %w", err)
	}
	return path, nil
}

func (l *LocalLogStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	return os.ReadFile(reference)
}

// captureDiagnostics persists err's attached logs (if any) via the
// configured LogStore and returns the reference to stash on JobError.Stack.
// A nil LogStore, or an err with no *HandlerError in its chain, is a no-op.
func (e *Engine) captureDiagnostics(jobID string, err error) string {
	if e.diagnostics == nil {
		return ""
	}
	var he *HandlerError
	if !errors.As(err, &he) || len(he.Logs) == 0 {
		return ""
	}
	ref, storeErr := e.diagnostics.Store(context.Background(), jobID, he.Logs)
	if storeErr != nil {
		e.telemetry.emitWarning("failed to persist job diagnostics: "+storeErr.Error(), jobID)
		return ""
	}
	return ref
}
