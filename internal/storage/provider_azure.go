package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureUploader puts blobs into an Azure storage container
type AzureUploader struct {
	containerURL  azblob.ContainerURL
	containerName string
}

// NewAzureUploader creates an Azure uploader using a shared key
func NewAzureUploader(config *AzureConfig) (*AzureUploader, error) {
	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credentials: %w", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Azure service URL: %w", err)
	}

	return &AzureUploader{
		containerURL:  azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		containerName: config.ContainerName,
	}, nil
}

// Destination returns azure://container
func (u *AzureUploader) Destination() string {
	return "azure://" + u.containerName
}

// PutFile uploads a local file as a block blob
func (u *AzureUploader) PutFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	blobURL := u.containerURL.NewBlockBlobURL(key)
	_, err = azblob.UploadFileToBlockBlob(ctx, f, blobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/gzip",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to Azure: %w", key, err)
	}
	return nil
}
