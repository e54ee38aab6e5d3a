package storage

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"go.uber.org/zap"

	"github.com/jittakal/kafexchange/pkg/batch"
	"github.com/jittakal/kafexchange/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*AzureWriter)(nil)

// AzureConfig contains Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	Endpoint      string
}

// Validate checks the required fields.
func (c AzureConfig) Validate() error {
	if c.AccountName == "" {
		return fmt.Errorf("account_name is required")
	}
	if c.AccountKey == "" {
		return fmt.Errorf("account_key is required")
	}
	if c.ContainerName == "" {
		return fmt.Errorf("container_name is required")
	}
	return nil
}

// ConnectionString builds the shared-key connection string. A custom
// endpoint targets an emulator or a sovereign cloud.
func (c AzureConfig) ConnectionString() string {
	if c.Endpoint != "" {
		return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			c.AccountName, c.AccountKey, c.Endpoint)
	}
	return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
		c.AccountName, c.AccountKey)
}

// AzureWriter uploads archive files to an Azure Blob container.
type AzureWriter struct {
	*writerBase
	client        *azblob.Client
	containerName string
}

// NewAzureWriter creates a new Azure Blob storage writer.
func NewAzureWriter(
	cfg AzureConfig,
	format batch.FileFormat,
	compression string,
	logger *zap.Logger,
	metrics MetricsCollector,
) (*AzureWriter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	base, err := newWriterBase(BackendAzure, format, compression, logger, metrics)
	if err != nil {
		return nil, err
	}

	base.logger.Info("Azure writer created",
		zap.String("container", cfg.ContainerName),
		zap.String("account", cfg.AccountName),
		zap.String("format", string(format)),
		zap.String("compression", compression),
	)

	return &AzureWriter{writerBase: base, client: client, containerName: cfg.ContainerName}, nil
}

// Write encodes records to a temporary file and uploads it as a blob below
// path.
func (w *AzureWriter) Write(ctx context.Context, records []batch.Record, path string) (int64, error) {
	if err := w.begin(records); err != nil {
		return 0, err
	}

	started := time.Now()

	tmp, stats, ext, err := w.encodeTemp(records)
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp)

	file, err := os.Open(tmp)
	if err != nil {
		return 0, w.fail("file_open", tmp, err)
	}
	defer file.Close()

	blob := objectKey(path, "wasbs") + fileName(ext, started)
	if _, err := w.client.UploadFile(ctx, w.containerName, blob, file, nil); err != nil {
		return 0, w.fail("upload", blob, err)
	}

	w.done(fmt.Sprintf("wasbs://%s/%s", w.containerName, blob), stats, started)
	return stats.SizeBytes, nil
}

// Close closes the Azure writer.
func (w *AzureWriter) Close() error {
	w.markClosed()
	return nil
}
