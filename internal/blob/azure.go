package blob

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	azblobblob "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	apperrors "github.com/jittakal/kafwindowsink/internal/errors"
	"github.com/jittakal/kafwindowsink/pkg/blob"
)

// Ensure implementation satisfies interface at compile time.
var _ blob.Store = (*AzureStore)(nil)

// AzureConfig contains Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	Endpoint      string
}

// AzureStore implements blob.Store for Azure Blob Storage. Block blob
// uploads commit atomically when the block list is finalized.
type AzureStore struct {
	client    *azblob.Client
	container string
	logger    *slog.Logger
	metrics   MetricsCollector
}

// NewAzureStore creates an Azure Blob storage store.
func NewAzureStore(cfg AzureConfig, logger *slog.Logger, metrics MetricsCollector) (*AzureStore, error) {
	var connectionString string
	if cfg.Endpoint != "" {
		connectionString = fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			cfg.AccountName, cfg.AccountKey, cfg.Endpoint)
	} else {
		connectionString = fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
			cfg.AccountName, cfg.AccountKey)
	}

	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	logger.Info("Azure blob store created",
		"container", cfg.ContainerName,
		"account", cfg.AccountName,
	)

	return &AzureStore{
		client:    client,
		container: cfg.ContainerName,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Put uploads data to the blob at path, replacing any existing blob.
func (s *AzureStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	_, err := s.client.UploadBuffer(ctx, s.container, path, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &azblobblob.HTTPHeaders{
			BlobContentType: &contentType,
		},
	})
	if err != nil {
		s.incError("upload")
		return s.classify(fmt.Errorf("failed to upload to Azure Blob: %w", err))
	}
	return nil
}

// Exists reports whether a blob exists at path.
func (s *AzureStore) Exists(ctx context.Context, path string) (bool, error) {
	blobClient := s.client.ServiceClient().
		NewContainerClient(s.container).
		NewBlobClient(path)

	_, err := blobClient.GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return false, nil
	}
	return false, s.classify(err)
}

// Close closes the Azure store.
func (s *AzureStore) Close() error {
	s.logger.Info("closing Azure blob store")
	return nil
}

func (s *AzureStore) incError(op string) {
	if s.metrics != nil {
		s.metrics.IncStorageErrors("azure", op)
	}
}

// classify surfaces authorization failures as fatal rather than retryable.
func (s *AzureStore) classify(err error) error {
	if bloberror.HasCode(err,
		bloberror.AuthenticationFailed,
		bloberror.AuthorizationFailure,
		bloberror.InsufficientAccountPermissions,
	) {
		return fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}
	return err
}
