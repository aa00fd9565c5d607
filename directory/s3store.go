package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"netpong/frame"
)

// S3API is the part of *s3.Client the store uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps the table as a JSON object in S3.
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := directory.NewS3Store(s3.NewFromConfig(cfg), "my-bucket", "netpong/highscores.json")
type S3Store struct {
	client S3API
	bucket string
	key    string
}

func NewS3Store(client S3API, bucket, key string) *S3Store {
	return &S3Store{client: client, bucket: bucket, key: key}
}

// NewS3StoreFromEnv builds the client from the default AWS configuration
// chain (environment, shared config, instance role).
func NewS3StoreFromEnv(ctx context.Context, bucket, key string) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("directory: load aws config: %w", err)
	}
	return NewS3Store(s3.NewFromConfig(cfg), bucket, key), nil
}

func (s *S3Store) Load(ctx context.Context) (frame.HighscoreTable, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return frame.HighscoreTable{}, false, nil
		}
		return frame.HighscoreTable{}, false, fmt.Errorf("directory: s3 get %s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return frame.HighscoreTable{}, false, fmt.Errorf("directory: s3 read: %w", err)
	}
	var t frame.HighscoreTable
	if err := json.Unmarshal(data, &t); err != nil {
		return frame.HighscoreTable{}, false, fmt.Errorf("directory: s3 decode: %w", err)
	}
	return t, true, nil
}

func (s *S3Store) Save(ctx context.Context, t frame.HighscoreTable) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("directory: encode highscores: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("directory: s3 put %s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}
