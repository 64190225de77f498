package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AutoSortingPayload is the auto-sorting job payload.
type AutoSortingPayload struct {
	Shop string `json:"shop"`
}

// PushDownPayload is the bulk-operation push-down job payload.
type PushDownPayload struct {
	Shop         string `json:"shop"`
	CollectionID string `json:"collectionID"`
}

// Validate ensures both identifiers are present.
func (p PushDownPayload) Validate() error {
	if p.Shop == "" || p.CollectionID == "" {
		return errors.New("push-down payload requires shop and collectionID")
	}
	return nil
}

// PushDownResult is returned by a successful push-down job.
type PushDownResult struct {
	Shop         string `json:"shop"`
	CollectionID string `json:"collectionID"`
	OperationID  string `json:"operationID,omitempty"`
}

// HideProductPayload is the hide-product job payload.
type HideProductPayload struct {
	Shop      string `json:"shop"`
	ProductID string `json:"productID"`
}

// BulkOperationFinishWebhook is the upstream bulk_operations/finish payload.
type BulkOperationFinishWebhook struct {
	AdminGraphQLAPIID string     `json:"admin_graphql_api_id"`
	Status            string     `json:"status"`
	ErrorCode         *string    `json:"error_code"`
	CompletedAt       *time.Time `json:"completed_at"`
	CreatedAt         *time.Time `json:"created_at"`
}

// ProductWebhookVariant is one variant inside a products/update payload.
type ProductWebhookVariant struct {
	ID                  int64  `json:"id"`
	InventoryQuantity   int    `json:"inventory_quantity"`
	InventoryPolicy     string `json:"inventory_policy"`
	InventoryManagement string `json:"inventory_management"`
	InventoryItemID     int64  `json:"inventory_item_id"`
}

// ProductWebhook is the upstream products/update payload.
type ProductWebhook struct {
	ID          int64                   `json:"id"`
	Title       string                  `json:"title"`
	Handle      string                  `json:"handle"`
	Status      string                  `json:"status"`
	Tags        string                  `json:"tags"`
	Variants    []ProductWebhookVariant `json:"variants"`
	VariantGIDs []struct {
		AdminGraphQLAPIID string `json:"admin_graphql_api_id"`
	} `json:"variant_gids"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// CollectionWebhook is the upstream collections/update payload.
type CollectionWebhook struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	SortOrder string `json:"sort_order"`
}

const gidPrefix = "gid://shopify/"

// AdminGID builds an upstream global id such as gid://shopify/Collection/42.
// Values that are already global ids are returned unchanged.
func AdminGID(kind, id string) string {
	if strings.HasPrefix(id, gidPrefix) {
		return id
	}
	return gidPrefix + kind + "/" + id
}

// LegacyID extracts the numeric id from a global id of the given kind.
func LegacyID(gid, kind string) (string, error) {
	prefix := gidPrefix + kind + "/"
	if !strings.HasPrefix(gid, prefix) {
		return "", fmt.Errorf("not a %s id: %q", kind, gid)
	}
	id := strings.TrimPrefix(gid, prefix)
	if i := strings.IndexByte(id, '?'); i >= 0 {
		id = id[:i]
	}
	if id == "" {
		return "", fmt.Errorf("empty %s id: %q", kind, gid)
	}
	return id, nil
}
