package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// DefaultS3Region is used when neither the config nor the AWS environment
// names a region.
const DefaultS3Region = "us-east-1"

// S3Config locates the paragraph objects.
type S3Config struct {
	Bucket string
	Prefix string

	// Region overrides AWS_REGION and the shared config.
	Region string

	// Profile selects a shared config profile. Empty uses AWS_PROFILE or
	// the default profile.
	Profile string

	// Endpoint overrides the AWS endpoint, for S3-compatible stores.
	Endpoint  string
	PathStyle bool

	// Static credentials. When empty, the SDK default chain resolves them:
	// environment, shared files, SSO, then container or instance roles.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// NewS3Client builds an S3 client from cfg on top of the AWS default
// configuration.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("docstore: load AWS config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = DefaultS3Region
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// S3Store stores each paragraph as a JSON object at
// {prefix}{documentId}/{paragraphId}.json.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store creates a store on bucket.
func NewS3Store(client *s3.Client, bucket, prefix string) *S3Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (s *S3Store) objectKey(docID, paraID string) string {
	return s.prefix + url.PathEscape(docID) + "/" + url.PathEscape(paraID) + ".json"
}

func (s *S3Store) GetParagraph(ctx context.Context, docID, paraID string) (*Paragraph, error) {
	if err := validateIDs(docID, paraID); err != nil {
		return nil, err
	}
	key := s.objectKey(docID, paraID)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("docstore: get %s: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("docstore: read %s: %w", key, err)
	}
	var p Paragraph
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("docstore: decode %s: %w", key, err)
	}
	return &p, nil
}

func (s *S3Store) SaveParagraph(ctx context.Context, p *Paragraph) error {
	if err := validateIDs(p.DocumentID, p.ParagraphID); err != nil {
		return err
	}
	stamp(p)
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("docstore: encode: %w", err)
	}

	key := s.objectKey(p.DocumentID, p.ParagraphID)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"updated-by": p.UpdatedBy,
		},
	})
	if err != nil {
		return fmt.Errorf("docstore: put %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

func (s *S3Store) Close(context.Context) error { return nil }

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey"
}
