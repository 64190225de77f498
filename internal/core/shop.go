package core

import (
	"context"
	"io"

	"github.com/acme/shelfsort/internal/domain/model"
)

// ShopAPI is the typed surface of the upstream Admin API used by the services.
// Implementations translate throttling into UpstreamBusy errors and user errors into
// UpstreamRejected errors.
type ShopAPI interface {
	// CurrentBulkOperation returns the shop's latest bulk query operation, or nil when none exists.
	CurrentBulkOperation(ctx context.Context, shop string) (*model.UpstreamBulkOperation, error)
	// StartCollectionExport starts a bulk export of a collection in both its current and default sort.
	StartCollectionExport(ctx context.Context, req ExportRequest) (*model.UpstreamBulkOperation, error)
	// BulkOperation fetches one operation by gid, or nil when the upstream does not know it.
	BulkOperation(ctx context.Context, shop, id string) (*model.UpstreamBulkOperation, error)
	// DownloadExport opens the export file behind url.
	DownloadExport(ctx context.Context, url string) (io.ReadCloser, error)
	SetCollectionSortOrder(ctx context.Context, params SortOrderParams) error
	// ReorderCollection submits moves in upstream-sized batches and returns how many were applied.
	ReorderCollection(ctx context.Context, params ReorderParams) (int, error)
	// ProductCollections lists the legacy ids of collections that contain the product.
	ProductCollections(ctx context.Context, shop, productID string) ([]string, error)
	// ProductVariants returns the product's variants with inventory levels at the given locations.
	ProductVariants(ctx context.Context, params ProductVariantsParams) ([]model.Variant, error)
	AddTags(ctx context.Context, params TagsParams) error
	RemoveTags(ctx context.Context, params TagsParams) error
	// SetPublished publishes or unpublishes a product on one publication.
	SetPublished(ctx context.Context, params PublicationParams) error
	SetProductStatus(ctx context.Context, params ProductStatusParams) error
}

// ExportRequest describes a collection export.
type ExportRequest struct {
	Shop         string
	CollectionID string
	Sort         model.SortSpec
	Locations    []string
}

// SortOrderParams groups parameters for ShopAPI.SetCollectionSortOrder.
type SortOrderParams struct {
	Shop         string
	CollectionID string
	Sorting      model.CollectionSorting
}

// ReorderParams groups parameters for ShopAPI.ReorderCollection.
type ReorderParams struct {
	Shop         string
	CollectionID string
	Moves        []model.Move
}

// ProductVariantsParams groups parameters for ShopAPI.ProductVariants.
type ProductVariantsParams struct {
	Shop      string
	ProductID string
	Locations []string
}

// TagsParams groups parameters for tag mutations.
type TagsParams struct {
	Shop      string
	ProductID string
	Tags      []string
}

// PublicationParams groups parameters for ShopAPI.SetPublished.
type PublicationParams struct {
	Shop          string
	ProductID     string
	PublicationID string
	Published     bool
}

// ProductStatusParams groups parameters for ShopAPI.SetProductStatus.
type ProductStatusParams struct {
	Shop      string
	ProductID string
	Status    model.ProductStatus
}
