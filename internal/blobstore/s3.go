package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

var ErrKMSKeyUnusable = errors.New("kms key cannot encrypt exports")

type s3Bucket struct {
	loc    Location
	client *s3.Client
	// Objects are written with SSE-KMS under this key when set.
	kmsKeyID string
}

func openS3(ctx context.Context, loc Location, opts S3Options) (*s3Bucket, error) {
	loadOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	if opts.AssumeRoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		creds := stscreds.NewAssumeRoleProvider(stsClient, opts.AssumeRoleARN, func(o *stscreds.AssumeRoleOptions) {
			if opts.ExternalID != "" {
				o.ExternalID = aws.String(opts.ExternalID)
			}
		})
		awsCfg.Credentials = aws.NewCredentialsCache(creds)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	b := &s3Bucket{loc: loc, client: client}

	if opts.KMSKeyID != "" {
		out, err := kms.NewFromConfig(awsCfg).DescribeKey(ctx, &kms.DescribeKeyInput{
			KeyId: aws.String(opts.KMSKeyID),
		})
		if err != nil {
			return nil, fmt.Errorf("key %s not accessible: %w", opts.KMSKeyID, err)
		}
		if err := checkKMSKey(out.KeyMetadata); err != nil {
			return nil, err
		}
		b.kmsKeyID = aws.ToString(out.KeyMetadata.Arn)
	}
	return b, nil
}

// checkKMSKey rejects keys that S3 could not use for SSE-KMS.
func checkKMSKey(meta *kmstypes.KeyMetadata) error {
	if meta == nil {
		return fmt.Errorf("%w: no key metadata", ErrKMSKeyUnusable)
	}
	if !meta.Enabled || meta.KeyState != kmstypes.KeyStateEnabled {
		return fmt.Errorf("%w: %s is %s", ErrKMSKeyUnusable, aws.ToString(meta.KeyId), meta.KeyState)
	}
	if meta.KeyUsage != kmstypes.KeyUsageTypeEncryptDecrypt || meta.KeySpec != kmstypes.KeySpecSymmetricDefault {
		return fmt.Errorf("%w: %s is not a symmetric encryption key", ErrKMSKeyUnusable, aws.ToString(meta.KeyId))
	}
	return nil
}

func (b *s3Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.loc.Bucket),
		Key:    aws.String(b.loc.Key(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%s: %w", b.URL(key), ErrNotExist)
		}
		return nil, fmt.Errorf("getting object: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (b *s3Bucket) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	in := &s3.PutObjectInput{
		Bucket:      aws.String(b.loc.Bucket),
		Key:         aws.String(b.loc.Key(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}
	if b.kmsKeyID != "" {
		in.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		in.SSEKMSKeyId = aws.String(b.kmsKeyID)
	}
	_, err := b.client.PutObject(ctx, in)
	if err != nil {
		return fmt.Errorf("putting object: %w", err)
	}
	return nil
}

func (b *s3Bucket) URL(key string) string {
	return "s3://" + b.loc.Bucket + "/" + b.loc.Key(key)
}

func (b *s3Bucket) Close() error {
	return nil
}
