package bulkexport

import (
	"encoding/json"
	"strings"

	"github.com/acme/shelfsort/internal/domain/model"
	apperrors "github.com/acme/shelfsort/internal/errors"
)

// locationAliasPrefix prefixes the per-location inventory level aliases in the export query.
const locationAliasPrefix = "L"

// LocationAlias is the field alias under inventoryItem that carries the level of locationID.
func LocationAlias(locationID string) string {
	return locationAliasPrefix + locationID
}

// CollectionExport is a collection export split into the two product orderings it carries.
// Ordered is the merchant sort with full variant data; Default is the collection's own
// default ordering, which is the order the storefront currently shows.
type CollectionExport struct {
	CollectionID string
	Ordered      []model.Item
	Default      []string
}

type productLine struct {
	ID              string   `json:"id"`
	LegacyID        string   `json:"legacyResourceId"`
	Title           string   `json:"title"`
	TracksInventory bool     `json:"tracksInventory"`
	TotalInventory  int      `json:"totalInventory"`
	Tags            []string `json:"tags"`
}

type variantLine struct {
	ID                string                     `json:"id"`
	InventoryQuantity int                        `json:"inventoryQuantity"`
	InventoryPolicy   string                     `json:"inventoryPolicy"`
	InventoryItem     map[string]json.RawMessage `json:"inventoryItem"`
}

type inventoryLevelLine struct {
	Quantities []struct {
		Quantity *int `json:"quantity"`
	} `json:"quantities"`
}

// DecodeCollection interprets a parsed export with one collection parent whose product
// children list every product twice: first in the merchant sort, then in the default sort.
// Products in the first half carry their variants as grandchildren.
func DecodeCollection(res *Result) (*CollectionExport, error) {
	if res == nil {
		return nil, apperrors.Formatf("empty export")
	}
	if len(res.Parents) != 1 {
		return nil, apperrors.Formatf("expected exactly one collection, found %d", len(res.Parents))
	}
	col := res.Parents[0]
	if col.ID == "" {
		return nil, apperrors.Formatf("line %d: collection record has no id", col.Line)
	}

	products := res.Children(col.ID)
	if len(products)%2 != 0 {
		return nil, apperrors.Formatf("collection %s lists %d product rows, expected an even count", col.ID, len(products))
	}
	half := len(products) / 2

	out := &CollectionExport{
		CollectionID: col.ID,
		Ordered:      make([]model.Item, 0, half),
		Default:      make([]string, 0, half),
	}
	seen := make(map[string]struct{}, half)
	for _, rec := range products[:half] {
		item, err := decodeItem(rec, res.Children(rec.ID))
		if err != nil {
			return nil, err
		}
		if _, dup := seen[item.ID]; dup {
			return nil, apperrors.Formatf("line %d: product %s listed twice in merchant sort", rec.Line, item.ID)
		}
		seen[item.ID] = struct{}{}
		out.Ordered = append(out.Ordered, item)
	}
	for _, rec := range products[half:] {
		if _, ok := seen[rec.ID]; !ok {
			return nil, apperrors.Formatf("line %d: product %s missing from merchant sort", rec.Line, rec.ID)
		}
		out.Default = append(out.Default, rec.ID)
	}
	if err := distinct(out.Default); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeItem(rec Record, children []Record) (model.Item, error) {
	var pl productLine
	if err := rec.Decode(&pl); err != nil {
		return model.Item{}, err
	}
	if pl.ID == "" {
		return model.Item{}, apperrors.Formatf("line %d: product record has no id", rec.Line)
	}
	item := model.Item{
		ID:              pl.ID,
		LegacyID:        pl.LegacyID,
		Title:           pl.Title,
		TracksInventory: pl.TracksInventory,
		TotalInventory:  pl.TotalInventory,
		Tags:            pl.Tags,
		Variants:        make([]model.Variant, 0, len(children)),
	}
	for _, child := range children {
		v, err := decodeVariant(child)
		if err != nil {
			return model.Item{}, err
		}
		item.Variants = append(item.Variants, v)
	}
	return item, nil
}

// DecodeVariant decodes a variant node shaped like the export's variant lines, including
// the per-location inventory level aliases.
func DecodeVariant(raw json.RawMessage) (model.Variant, error) {
	return decodeVariant(Record{Raw: raw})
}

func decodeVariant(rec Record) (model.Variant, error) {
	var vl variantLine
	if err := rec.Decode(&vl); err != nil {
		return model.Variant{}, err
	}
	v := model.Variant{
		ID:                vl.ID,
		InventoryQuantity: vl.InventoryQuantity,
		InventoryPolicy:   model.ParseInventoryPolicy(vl.InventoryPolicy),
	}
	for key, raw := range vl.InventoryItem {
		if key == "tracked" {
			if err := json.Unmarshal(raw, &v.InventoryItem.Tracked); err != nil {
				return model.Variant{}, apperrors.Formatf("line %d: tracked: %v", rec.Line, err)
			}
			continue
		}
		if !strings.HasPrefix(key, locationAliasPrefix) {
			continue
		}
		qty, err := levelQuantity(raw)
		if err != nil {
			return model.Variant{}, apperrors.Formatf("line %d: %s: %v", rec.Line, key, err)
		}
		if v.InventoryItem.Levels == nil {
			v.InventoryItem.Levels = make(map[string]*int)
		}
		v.InventoryItem.Levels[strings.TrimPrefix(key, locationAliasPrefix)] = qty
	}
	return v, nil
}

// levelQuantity returns nil when the location has no level for the item.
func levelQuantity(raw json.RawMessage) (*int, error) {
	if string(raw) == "null" {
		return nil, nil
	}
	var lvl inventoryLevelLine
	if err := json.Unmarshal(raw, &lvl); err != nil {
		return nil, err
	}
	if len(lvl.Quantities) == 0 {
		return nil, nil
	}
	return lvl.Quantities[0].Quantity, nil
}

func distinct(ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return apperrors.Formatf("product %s listed twice in default sort", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
