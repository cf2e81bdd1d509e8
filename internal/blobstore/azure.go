package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

var errNoAccountURL = errors.New("azblob bucket needs an account URL")

type azureBucket struct {
	loc    Location
	client *azblob.Client
}

func openAzure(loc Location, opts AzureOptions) (*azureBucket, error) {
	if opts.AccountURL == "" {
		return nil, errNoAccountURL
	}

	var (
		cred azcore.TokenCredential
		err  error
	)
	if opts.ClientSecret != "" {
		cred, err = azidentity.NewClientSecretCredential(opts.TenantID, opts.ClientID, opts.ClientSecret, nil)
	} else {
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("creating credential: %w", err)
	}

	client, err := azblob.NewClient(opts.AccountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating blob client: %w", err)
	}
	return &azureBucket{loc: loc, client: client}, nil
}

func (b *azureBucket) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	resp, err := b.client.DownloadStream(ctx, b.loc.Bucket, b.loc.Key(key), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("%s: %w", b.URL(key), ErrNotExist)
		}
		return nil, fmt.Errorf("downloading blob: %w", err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (b *azureBucket) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	_, err := b.client.UploadBuffer(ctx, b.loc.Bucket, b.loc.Key(key), data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return fmt.Errorf("uploading blob: %w", err)
	}
	return nil
}

func (b *azureBucket) URL(key string) string {
	return "azblob://" + b.loc.Bucket + "/" + b.loc.Key(key)
}

func (b *azureBucket) Close() error {
	return nil
}
