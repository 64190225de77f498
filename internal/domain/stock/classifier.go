// Package stock decides whether catalog items count as out of stock for push-down and hiding.
package stock

import (
	"github.com/acme/shelfsort/internal/domain/model"
	apperrors "github.com/acme/shelfsort/internal/errors"
)

// Classify reports whether the item is out of stock and eligible to be pushed down.
// It is a pure function of the item snapshot and merchant settings.
func Classify(item *model.Item, cfg *model.MerchantConfig) (bool, error) {
	if err := validate(item, cfg); err != nil {
		return false, err
	}

	if !tracked(item) {
		return false, nil
	}

	var oos bool
	if len(cfg.SelectedLocations) > 0 {
		oos = outOfStockAtLocations(item.Variants, cfg.SelectedLocations)
	} else {
		oos = outOfStockOverall(item)
	}
	if !oos {
		return false, nil
	}

	if cfg.ExcludePushDown && item.HasTag(cfg.ExcludePushDownTags) {
		return false, nil
	}

	if sellsWhileOOS(item.Variants) && !cfg.ContinueSellingAsOOS {
		return false, nil
	}

	return true, nil
}

// OutOfStock reports the raw stock state without push-down exclusions applied.
// Hiding and tagging use it together with their own exclusion lists.
func OutOfStock(item *model.Item, cfg *model.MerchantConfig) (bool, error) {
	if err := validate(item, cfg); err != nil {
		return false, err
	}
	if !tracked(item) {
		return false, nil
	}
	var oos bool
	if len(cfg.SelectedLocations) > 0 {
		oos = outOfStockAtLocations(item.Variants, cfg.SelectedLocations)
	} else {
		oos = outOfStockOverall(item)
	}
	if !oos {
		return false, nil
	}
	if sellsWhileOOS(item.Variants) {
		return cfg.ContinueSellingAsOOS, nil
	}
	return true, nil
}

// ShouldHide reports whether an out-of-stock item may be hidden under the merchant settings.
func ShouldHide(item *model.Item, cfg *model.MerchantConfig) bool {
	if !cfg.EnableHiding {
		return false
	}
	return !cfg.ExcludeHiding || !item.HasTag(cfg.ExcludeHideTags)
}

// Partition splits items into in-stock and push-down buckets, preserving relative order.
func Partition(items []model.Item, cfg *model.MerchantConfig) (keep, pushDown []model.Item, err error) {
	keep = make([]model.Item, 0, len(items))
	for i := range items {
		oos, cerr := Classify(&items[i], cfg)
		if cerr != nil {
			return nil, nil, cerr
		}
		if oos {
			pushDown = append(pushDown, items[i])
			continue
		}
		keep = append(keep, items[i])
	}
	return keep, pushDown, nil
}

func validate(item *model.Item, cfg *model.MerchantConfig) error {
	if item == nil {
		return apperrors.Validation("item is required")
	}
	if cfg == nil {
		return apperrors.Validation("merchant config is required")
	}
	if item.Variants == nil {
		return apperrors.ValidationField("variants", "item "+item.ID+" has no variants")
	}
	return nil
}

func tracked(item *model.Item) bool {
	if !item.TracksInventory {
		return false
	}
	for i := range item.Variants {
		if !item.Variants[i].InventoryItem.Tracked {
			return false
		}
	}
	return true
}

// outOfStockAtLocations is true when no variant has positive availability at any selected location.
func outOfStockAtLocations(variants []model.Variant, locations []string) bool {
	for i := range variants {
		levels := variants[i].InventoryItem.Levels
		for _, loc := range locations {
			qty, ok := levels[loc]
			if ok && qty != nil && *qty > 0 {
				return false
			}
		}
	}
	return true
}

func outOfStockOverall(item *model.Item) bool {
	if item.TotalInventory > 0 {
		return false
	}
	for i := range item.Variants {
		if item.Variants[i].InventoryQuantity > 0 {
			return false
		}
	}
	return true
}

func sellsWhileOOS(variants []model.Variant) bool {
	for i := range variants {
		if variants[i].InventoryPolicy == model.InventoryPolicyContinue {
			return true
		}
	}
	return false
}
