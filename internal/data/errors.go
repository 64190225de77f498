package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// Catalog repository sentinels.
	ErrMerchantNotFound   = errors.New("merchant not found")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrProductNotFound    = errors.New("product not found")

	// Bulk operation repository sentinels.
	ErrBulkOperationNotFound      = errors.New("bulk operation not found")
	ErrBulkOperationExists        = errors.New("bulk operation already exists")
	ErrBulkOperationBadTransition = errors.New("bulk operation status transition not allowed")

	// Scheduled task repository sentinels.
	ErrScheduledTaskNotFound = errors.New("scheduled task not found")
)
