package model

import (
	"errors"
	"time"
)

// HidingChannel selects how an out-of-stock product is hidden.
type HidingChannel string

const (
	// HidingChannelOnlineStore unpublishes the product from the online store publication.
	HidingChannelOnlineStore HidingChannel = "ONLINE_STORE"
	// HidingChannelAll moves the product to DRAFT status.
	HidingChannelAll HidingChannel = "ALL"
)

// Valid reports whether the channel is known.
func (c HidingChannel) Valid() bool {
	return c == HidingChannelOnlineStore || c == HidingChannelAll
}

// MerchantConfig holds the per-shop settings that drive classification, push-down and hiding.
// It is read-only for the reorder pipeline.
type MerchantConfig struct {
	Shop                 string        `json:"shop"                    yaml:"shop"                    db:"shop"`
	Active               bool          `json:"active"                  yaml:"active"                  db:"active"`
	ContinueSellingAsOOS bool          `json:"continue_selling_as_oos" yaml:"continueSellingAsOOS"    db:"continue_selling_as_oos"`
	ExcludePushDown      bool          `json:"exclude_push_down"       yaml:"excludePushDown"         db:"exclude_push_down"`
	ExcludePushDownTags  []string      `json:"exclude_push_down_tags"  yaml:"excludePushDownTags"     db:"exclude_push_down_tags"`
	SelectedLocations    []string      `json:"selected_locations"      yaml:"selectedLocations"       db:"selected_locations"`
	TagOOSProduct        bool          `json:"tag_oos_product"         yaml:"tagOOSProduct"           db:"tag_oos_product"`
	OOSProductTag        string        `json:"oos_product_tag"         yaml:"oosProductTag"           db:"oos_product_tag"`
	EnableHiding         bool          `json:"enable_hiding"           yaml:"enableHiding"            db:"enable_hiding"`
	HidingChannel        HidingChannel `json:"hiding_channel"          yaml:"hidingChannel"           db:"hiding_channel"`
	HideAfterDays        int           `json:"hide_after_days"         yaml:"hideAfterDays"           db:"hide_after_days"`
	ExcludeHiding        bool          `json:"exclude_hiding"          yaml:"excludeHiding"           db:"exclude_hiding"`
	ExcludeHideTags      []string      `json:"exclude_hide_tags"       yaml:"excludeHideTags"         db:"exclude_hide_tags"`
	TagHiddenProduct     bool          `json:"tag_hidden_product"      yaml:"tagHiddenProduct"        db:"tag_hidden_product"`
	HiddenProductTag     string        `json:"hidden_product_tag"      yaml:"hiddenProductTag"        db:"hidden_product_tag"`
	RepublishHidden      bool          `json:"republish_hidden"        yaml:"republishHidden"         db:"republish_hidden"`
	PublicationID        string        `json:"publication_id"          yaml:"publicationID"           db:"publication_id"`
	UpdatedAt            time.Time     `json:"updated_at"              yaml:"-"                       db:"updated_at"`
}

// Validate checks settings that would make the pipeline misbehave.
func (m *MerchantConfig) Validate() error {
	if m.Shop == "" {
		return errors.New("shop is required")
	}
	if m.EnableHiding && !m.HidingChannel.Valid() {
		return errors.New("hiding channel must be ONLINE_STORE or ALL when hiding is enabled")
	}
	if m.HideAfterDays < 0 {
		return errors.New("hide after days must be >= 0")
	}
	return nil
}

// HideDelay returns how long an out-of-stock product waits before it is hidden.
func (m *MerchantConfig) HideDelay() time.Duration {
	return time.Duration(m.HideAfterDays) * 24 * time.Hour
}
