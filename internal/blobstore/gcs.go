package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type gcsBucket struct {
	loc    Location
	client *storage.Client
}

func openGCS(ctx context.Context, loc Location, opts GCSOptions) (*gcsBucket, error) {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &gcsBucket{loc: loc, client: client}, nil
}

func (b *gcsBucket) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	r, err := b.client.Bucket(b.loc.Bucket).Object(b.loc.Key(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s: %w", b.URL(key), ErrNotExist)
		}
		return nil, fmt.Errorf("reading object: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (b *gcsBucket) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	w := b.client.Bucket(b.loc.Bucket).Object(b.loc.Key(key)).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("writing object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing object: %w", err)
	}
	return nil
}

func (b *gcsBucket) URL(key string) string {
	return "gs://" + b.loc.Bucket + "/" + b.loc.Key(key)
}

func (b *gcsBucket) Close() error {
	return b.client.Close()
}
