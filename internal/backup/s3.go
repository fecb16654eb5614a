package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/draftkeeper/draftkeeper/internal/model"
	"github.com/draftkeeper/draftkeeper/internal/util/compression"
)

const metaEncodingKey = "blob-encoding"

type S3Store struct { // implements Store
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string

	// compressor, when set, compresses blobs at rest. Get decompresses
	// transparently so callers always see the original bytes.
	compressor compression.Compressor
}

func NewS3Store(accessKeyID, accessKeySecret, region, baseEndpoint, bucket string, compress bool) *S3Store {
	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, accessKeySecret, "")),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		backupLogger.Fatal().Err(err).Msg("Error initializing S3 client")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if baseEndpoint != "" {
			o.BaseEndpoint = aws.String(baseEndpoint)
		}
	})

	store := &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
	}
	if compress {
		store.compressor = compression.ZstdCompressor{}
	}
	return store
}

func (s *S3Store) Put(ctx context.Context, path string, data []byte, contentType string) error {
	body := data
	metadata := map[string]string{}

	if s.compressor != nil {
		compressed, err := s.compressor.Compress(data)
		if err != nil {
			return fmt.Errorf("error compressing blob: %w", err)
		}
		body = compressed
		metadata[metaEncodingKey] = "zstd"
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata:    metadata,
	})
	if err != nil {
		return fmt.Errorf("error writing blob %s: %w", path, err)
	}

	backupLogger.Debug().Str("path", path).Int("bytes", len(data)).Msg("Blob written")
	return nil
}

func (s *S3Store) Get(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("error reading blob %s: %w", path, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading blob body %s: %w", path, err)
	}

	// Decompression follows the blob's metadata, not the current compression
	// setting, so toggling compression never breaks reads of older blobs.
	if out.Metadata[metaEncodingKey] == "zstd" {
		data, err = compression.ZstdCompressor{}.Decompress(data)
		if err != nil {
			return nil, fmt.Errorf("error decompressing blob %s: %w", path, err)
		}
	}
	return data, nil
}

func (s *S3Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("error checking blob %s: %w", path, err)
	}
	return true, nil
}

func (s *S3Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("error deleting blob %s: %w", path, err)
	}
	return nil
}

func (s *S3Store) SignedReadURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("error presigning blob %s: %w", path, err)
	}
	return req.URL, nil
}
