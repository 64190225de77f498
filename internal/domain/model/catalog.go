package model

import (
	"strings"
	"time"
)

// InventoryPolicy controls whether a variant keeps selling at zero stock.
type InventoryPolicy string

const (
	// InventoryPolicyDeny stops selling when stock runs out.
	InventoryPolicyDeny InventoryPolicy = "DENY"
	// InventoryPolicyContinue keeps selling while out of stock.
	InventoryPolicyContinue InventoryPolicy = "CONTINUE"
)

// ParseInventoryPolicy normalizes webhook ("continue") and API ("CONTINUE") spellings.
func ParseInventoryPolicy(v string) InventoryPolicy {
	return InventoryPolicy(strings.ToUpper(strings.TrimSpace(v)))
}

// InventoryItem carries tracking state and per-location availability for a variant.
// Levels maps location id to the available quantity; a nil value means the location
// reported no quantity.
type InventoryItem struct {
	Tracked bool            `json:"tracked"`
	Levels  map[string]*int `json:"levels,omitempty"`
}

// Variant is the stock-bearing child of an Item.
type Variant struct {
	ID                string          `json:"id,omitempty"`
	InventoryQuantity int             `json:"inventoryQuantity"`
	InventoryPolicy   InventoryPolicy `json:"inventoryPolicy"`
	InventoryItem     InventoryItem   `json:"inventoryItem"`
}

// Item is an orderable product inside a collection, immutable within one planning pass.
// Variants is nil when variant data was not supplied at all.
type Item struct {
	ID              string    `json:"id"`
	LegacyID        string    `json:"legacyResourceId,omitempty"`
	Title           string    `json:"title,omitempty"`
	TracksInventory bool      `json:"tracksInventory"`
	TotalInventory  int       `json:"totalInventory"`
	Tags            []string  `json:"tags,omitempty"`
	Variants        []Variant `json:"variants"`
}

// HasTag reports whether the item carries any of the given tags.
func (i *Item) HasTag(tags []string) bool {
	if len(tags) == 0 || len(i.Tags) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	for _, t := range i.Tags {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// ItemIDs returns the identifiers of items in order.
func ItemIDs(items []Item) []string {
	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}
	return ids
}

// Move relocates one item to a 0-based absolute position in the final ordering.
type Move struct {
	ID          string `json:"id"`
	NewPosition int    `json:"newPosition"`
}

// ProductStatus mirrors the upstream product status.
type ProductStatus string

const (
	// ProductStatusActive is a published, sellable product.
	ProductStatusActive ProductStatus = "ACTIVE"
	// ProductStatusDraft is hidden from every channel.
	ProductStatusDraft ProductStatus = "DRAFT"
	// ProductStatusArchived is retired.
	ProductStatusArchived ProductStatus = "ARCHIVED"
)

// Product is the persisted snapshot of an upstream product used to detect stock transitions.
type Product struct {
	ID                    string        `json:"id"                            db:"product_id"`
	Shop                  string        `json:"shop"                          db:"shop"`
	Title                 string        `json:"title"                         db:"title"`
	Handle                string        `json:"handle"                        db:"handle"`
	Status                ProductStatus `json:"status"                        db:"status"`
	Tags                  []string      `json:"tags"                          db:"tags"`
	VariantsCount         int           `json:"variants_count"                db:"variants_count"`
	HasContinueSelling    bool          `json:"has_continue_selling"          db:"has_continue_selling"`
	HasOutOfStockVariants bool          `json:"has_out_of_stock_variants"     db:"has_out_of_stock_variants"`
	OOS                   bool          `json:"oos"                           db:"oos"`
	OOSAt                 *time.Time    `json:"oos_at,omitempty"              db:"oos_at"`
	HiddenAt              *time.Time    `json:"hidden_at,omitempty"           db:"hidden_at"`
	ScheduledHiddenAt     *time.Time    `json:"scheduled_hidden_at,omitempty" db:"scheduled_hidden_at"`
	UpdatedAt             time.Time     `json:"updated_at"                    db:"updated_at"`
}

// ProductChanged reports whether the stock-relevant attributes differ between snapshots.
func ProductChanged(prev, next *Product) bool {
	if prev == nil {
		return true
	}
	return prev.Status != next.Status ||
		prev.Handle != next.Handle ||
		!sameTagSet(prev.Tags, next.Tags) ||
		prev.OOS != next.OOS ||
		prev.VariantsCount != next.VariantsCount ||
		prev.HasContinueSelling != next.HasContinueSelling ||
		prev.HasOutOfStockVariants != next.HasOutOfStockVariants
}

func sameTagSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// SplitTags converts the upstream comma separated tag list into a trimmed slice.
func SplitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
