// Package blobstore reads and writes objects in S3, Google Cloud Storage,
// Azure Blob Storage or a local directory behind one small interface.
//
// Buckets are addressed by URL:
//
//	s3://bucket/prefix
//	gs://bucket/prefix
//	azblob://container/prefix
//	file:///var/lib/colocmap/exports
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

var (
	ErrNotExist          = errors.New("object does not exist")
	ErrUnsupportedScheme = errors.New("unsupported bucket URL scheme")
	ErrInvalidKey        = errors.New("invalid object key")
)

// Bucket is a flat key/value object namespace.
type Bucket interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// URL returns the canonical URL of key, for display and job results.
	URL(key string) string
	Close() error
}

// Options carries provider credentials. Empty fields fall back to each SDK's
// default credential chain.
type Options struct {
	S3    S3Options
	GCS   GCSOptions
	Azure AzureOptions
}

type S3Options struct {
	Region          string
	Endpoint        string
	AssumeRoleARN   string
	ExternalID      string
	AccessKeyID     string
	SecretAccessKey string
	KMSKeyID        string
}

type GCSOptions struct {
	CredentialsFile string
}

type AzureOptions struct {
	AccountURL   string
	TenantID     string
	ClientID     string
	ClientSecret string
}

// Location is a parsed bucket URL.
type Location struct {
	Scheme string
	Bucket string
	Prefix string
}

func ParseURL(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("parsing bucket URL: %w", err)
	}

	loc := Location{Scheme: strings.ToLower(u.Scheme)}
	switch loc.Scheme {
	case "s3", "gs", "azblob":
		if u.Host == "" {
			return Location{}, fmt.Errorf("bucket URL %q has no bucket name", raw)
		}
		loc.Bucket = u.Host
		loc.Prefix = strings.Trim(u.Path, "/")
	case "file":
		if u.Path == "" {
			return Location{}, fmt.Errorf("file URL %q has no path", raw)
		}
		loc.Bucket = path.Clean(u.Host + u.Path)
	default:
		return Location{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return loc, nil
}

// Key joins the location prefix and a relative key.
func (l Location) Key(key string) string {
	if l.Prefix == "" {
		return key
	}
	return l.Prefix + "/" + key
}

func (l Location) String() string {
	if l.Scheme == "file" {
		return "file://" + l.Bucket
	}
	s := l.Scheme + "://" + l.Bucket
	if l.Prefix != "" {
		s += "/" + l.Prefix
	}
	return s
}

// Open connects to the bucket named by rawURL.
func Open(ctx context.Context, rawURL string, opts Options) (Bucket, error) {
	loc, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	switch loc.Scheme {
	case "s3":
		return openS3(ctx, loc, opts.S3)
	case "gs":
		return openGCS(ctx, loc, opts.GCS)
	case "azblob":
		return openAzure(loc, opts.Azure)
	default:
		return openFile(loc)
	}
}

// OpenObject splits an object URL such as s3://bucket/dir/matrix.csv into a
// bucket rooted at the parent directory and the object's base name.
func OpenObject(ctx context.Context, rawURL string, opts Options) (Bucket, string, error) {
	dir, key := SplitObjectURL(rawURL)
	if key == "" {
		return nil, "", fmt.Errorf("%w: %q names no object", ErrInvalidKey, rawURL)
	}
	b, err := Open(ctx, dir, opts)
	if err != nil {
		return nil, "", err
	}
	return b, key, nil
}

func SplitObjectURL(rawURL string) (string, string) {
	i := strings.LastIndex(rawURL, "/")
	if i < 0 || strings.HasSuffix(rawURL[:i+1], "://") {
		return rawURL, ""
	}
	return rawURL[:i], rawURL[i+1:]
}

func checkKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
