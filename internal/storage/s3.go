package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/snarg/transcribe-api/internal/config"
)

// S3Store keeps uploaded audio and the transcripts written next to it.
type S3Store struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
	prefix        string
	endpoint      string
	publicURL     string
	presignExpiry time.Duration
	log           zerolog.Logger
}

// NewS3Store creates an S3 store. A custom endpoint switches to path-style
// addressing for S3-compatible servers.
func NewS3Store(awsCfg aws.Config, cfg config.S3Config, log zerolog.Logger) *S3Store {
	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	return &S3Store{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        cfg.Bucket,
		prefix:        strings.Trim(cfg.Prefix, "/"),
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		publicURL:     strings.TrimRight(cfg.PublicURL, "/"),
		presignExpiry: cfg.PresignExpiry,
		log:           log.With().Str("component", "s3-store").Logger(),
	}
}

// HeadBucket checks that the bucket exists and credentials are valid.
func (s *S3Store) HeadBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &s.bucket,
	})
	return err
}

// Bucket returns the bucket name.
func (s *S3Store) Bucket() string { return s.bucket }

// Key returns the full object key for a name under the configured prefix.
func (s *S3Store) Key(name string) string {
	if s.prefix != "" {
		return s.prefix + "/" + name
	}
	return name
}

// URI returns the s3:// URI of a key, as AWS services expect it.
func (s *S3Store) URI(key string) string {
	return "s3://" + s.bucket + "/" + key
}

// PutFile uploads a local file.
func (s *S3Store) PutFile(ctx context.Context, key, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   &contentType,
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	s.log.Debug().Str("key", key).Int64("bytes", info.Size()).Msg("object uploaded")
	return nil
}

// Exists reports whether an object is present. A missing object is (false,
// nil); any other failure is returned so callers can tell "not yet" from
// "storage is broken".
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head s3://%s/%s: %w", s.bucket, key, err)
}

// URL returns a client-facing URL for a key: presigned when an expiry is
// configured, otherwise a plain public URL.
func (s *S3Store) URL(ctx context.Context, key string) (string, error) {
	if s.presignExpiry > 0 {
		req, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: &s.bucket,
			Key:    &key,
		}, func(opts *s3.PresignOptions) {
			opts.Expires = s.presignExpiry
		})
		if err != nil {
			return "", err
		}
		return req.URL, nil
	}
	return s.PublicURL(key), nil
}

// PublicURL builds the unsigned URL of a key.
func (s *S3Store) PublicURL(key string) string {
	escaped := escapeKey(key)
	switch {
	case s.publicURL != "":
		return s.publicURL + "/" + escaped
	case s.endpoint != "":
		return s.endpoint + "/" + s.bucket + "/" + escaped
	default:
		return "https://" + s.bucket + ".s3.amazonaws.com/" + escaped
	}
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
