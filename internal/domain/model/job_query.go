//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

// JobListOptions groups parameters for listing jobs with optional filters (admin view).
type JobListOptions struct {
	Queue     *QueueName // Optional filter by queue
	Status    *JobStatus // Optional filter by status (pending, running, completed, failed)
	DedupKey  *string    // Optional filter by dedup key
	SortOrder string     // "asc" or "desc" by created_at (default: "desc")
	Limit     int        // Pagination limit
	Offset    int        // Pagination offset
}

// BulkOperationListOptions groups parameters for listing bulk operations.
type BulkOperationListOptions struct {
	Shop         *string
	CollectionID *string
	Status       *BulkOperationStatus
	Limit        int
	Offset       int
}
