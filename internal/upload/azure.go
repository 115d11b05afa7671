package upload

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// Uploader pushes run artifacts to an Azure Blob Storage container.
type Uploader struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewUploader builds an Uploader from a storage account connection string.
func NewUploader(connectionString, container, prefix string) (*Uploader, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	return &Uploader{client: client, container: container, prefix: prefix}, nil
}

// UploadDir walks root and uploads every regular file, preserving the
// directory layout under the configured prefix. Blob names use forward
// slashes regardless of the local separator.
func (u *Uploader) UploadDir(ctx context.Context, root string) (int, error) {
	uploaded := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(filepath.Dir(root), path)
		if err != nil {
			return err
		}
		blobName := filepath.ToSlash(rel)
		if u.prefix != "" {
			blobName = strings.TrimSuffix(u.prefix, "/") + "/" + blobName
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()

		if _, err := u.client.UploadFile(ctx, u.container, blobName, f, nil); err != nil {
			return fmt.Errorf("failed to upload %s: %w", blobName, err)
		}
		uploaded++
		return nil
	})
	if err != nil {
		return uploaded, err
	}

	fmt.Printf("Uploaded %d files to container %s\n", uploaded, u.container)
	return uploaded, nil
}
