package model

import (
	"fmt"
	"strings"
	"time"
)

// CollectionSorting is the merchant-facing sort order of a collection.
type CollectionSorting string

const (
	CollectionSortingAlphaAsc    CollectionSorting = "ALPHA_ASC"
	CollectionSortingAlphaDesc   CollectionSorting = "ALPHA_DESC"
	CollectionSortingBestSelling CollectionSorting = "BEST_SELLING"
	CollectionSortingCreated     CollectionSorting = "CREATED"
	CollectionSortingCreatedDesc CollectionSorting = "CREATED_DESC"
	CollectionSortingManual      CollectionSorting = "MANUAL"
	CollectionSortingPriceAsc    CollectionSorting = "PRICE_ASC"
	CollectionSortingPriceDesc   CollectionSorting = "PRICE_DESC"
)

// SortSpec is the product connection sort used when exporting a collection.
type SortSpec struct {
	SortKey string
	Reverse bool
}

// DefaultSortSpec is the canonical collection order that reorder moves are applied against.
var DefaultSortSpec = SortSpec{SortKey: "COLLECTION_DEFAULT"}

var sortSpecs = map[CollectionSorting]SortSpec{
	CollectionSortingAlphaAsc:    {SortKey: "TITLE"},
	CollectionSortingAlphaDesc:   {SortKey: "TITLE", Reverse: true},
	CollectionSortingPriceAsc:    {SortKey: "PRICE"},
	CollectionSortingPriceDesc:   {SortKey: "PRICE", Reverse: true},
	CollectionSortingCreated:     {SortKey: "CREATED"},
	CollectionSortingCreatedDesc: {SortKey: "CREATED", Reverse: true},
	CollectionSortingBestSelling: {SortKey: "BEST_SELLING"},
	CollectionSortingManual:      {SortKey: "MANUAL"},
}

// ParseCollectionSorting accepts both the enum form and webhook forms such as "best-selling".
func ParseCollectionSorting(v string) (CollectionSorting, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(v), "-", "_"))
	s := CollectionSorting(norm)
	if _, ok := sortSpecs[s]; !ok {
		return "", fmt.Errorf("invalid collection sorting: %q", v)
	}
	return s, nil
}

// SortSpec returns the export sort for the collection sorting, defaulting to best selling.
func (s CollectionSorting) SortSpec() SortSpec {
	if spec, ok := sortSpecs[s]; ok {
		return spec
	}
	return sortSpecs[CollectionSortingBestSelling]
}

// Collection is a tracked merchandising collection.
// ID is the upstream legacy (numeric) identifier.
type Collection struct {
	ID             string            `json:"id"                     db:"collection_id"`
	Shop           string            `json:"shop"                   db:"shop"`
	Title          string            `json:"title"                  db:"title"`
	CurrentSorting CollectionSorting `json:"current_sorting"        db:"current_sorting"`
	IsActive       bool              `json:"is_active"              db:"is_active"`
	OOSCount       int               `json:"oos_count"              db:"oos_count"`
	LastRunAt      *time.Time        `json:"last_run_at,omitempty"  db:"last_run_at"`
	LastSortedAt   *time.Time        `json:"last_sorted_at,omitempty" db:"last_sorted_at"`
	CreatedAt      time.Time         `json:"created_at"             db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"             db:"updated_at"`
}

// UpdateCollectionRequest carries optional collection field updates.
type UpdateCollectionRequest struct {
	Title          *string
	CurrentSorting *CollectionSorting
	IsActive       *bool
	OOSCount       *int
	LastRunAt      *time.Time
	LastSortedAt   *time.Time
}

// HasChanges reports whether any field is set.
func (r UpdateCollectionRequest) HasChanges() bool {
	return r.Title != nil || r.CurrentSorting != nil || r.IsActive != nil ||
		r.OOSCount != nil || r.LastRunAt != nil || r.LastSortedAt != nil
}
