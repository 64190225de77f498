// Package testutil provides testing utilities and helpers for the shelfsort queue and repositories.
package testutil

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/acme/shelfsort/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a push-down request for a demo collection.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			Queue:      model.QueueBulkOperation,
			Name:       model.JobNamePushDown,
			Payload:    json.RawMessage(`{"shop":"demo.myshopify.com","collectionID":"1"}`),
			MaxRetries: 2,
		},
	}
}

// WithQueue sets the queue and the name used on it.
func (b *JobRequestBuilder) WithQueue(queue model.QueueName, name string) *JobRequestBuilder {
	b.req.Queue = queue
	b.req.Name = name
	return b
}

// WithPriority sets the job priority.
func (b *JobRequestBuilder) WithPriority(priority int) *JobRequestBuilder {
	b.req.Priority = priority
	return b
}

// WithPayloadString sets the job payload from a string.
func (b *JobRequestBuilder) WithPayloadString(payload string) *JobRequestBuilder {
	b.req.Payload = json.RawMessage(payload)
	return b
}

// WithDedup sets the dedup key and window.
func (b *JobRequestBuilder) WithDedup(key string, ttl time.Duration) *JobRequestBuilder {
	b.req.DedupKey = key
	b.req.DedupTTL = ttl
	return b
}

// WithGroupKey sets the rate-limit group.
func (b *JobRequestBuilder) WithGroupKey(group string) *JobRequestBuilder {
	b.req.GroupKey = group
	return b
}

// WithScheduledAt sets the scheduled time.
func (b *JobRequestBuilder) WithScheduledAt(scheduledAt time.Time) *JobRequestBuilder {
	b.req.ScheduledAt = &scheduledAt
	return b
}

// WithMaxRetries sets the total attempt budget.
func (b *JobRequestBuilder) WithMaxRetries(maxRetries int) *JobRequestBuilder {
	b.req.MaxRetries = maxRetries
	return b
}

// Build returns the constructed CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// PushDownJobRequest builds the request a product webhook enqueues for one collection.
func PushDownJobRequest(shop, collectionID string) *model.CreateJobRequest {
	return NewJobRequest().
		WithPayloadString(fmt.Sprintf(`{"shop":%q,"collectionID":%q}`, shop, collectionID)).
		WithDedup("BO:"+collectionID, 30*time.Second).
		WithGroupKey(shop).
		Build()
}

// HideProductJobRequest builds a hide request due at the given time.
func HideProductJobRequest(shop, productID string, at time.Time) *model.CreateJobRequest {
	return NewJobRequest().
		WithQueue(model.QueueHideProduct, model.JobNameHideProduct).
		WithPayloadString(fmt.Sprintf(`{"shop":%q,"productID":%q}`, shop, productID)).
		WithScheduledAt(at).
		Build()
}

// MerchantConfig returns settings with every feature enabled for shop.
func MerchantConfig(shop string) *model.MerchantConfig {
	return &model.MerchantConfig{
		Shop:                shop,
		Active:              true,
		ExcludePushDownTags: []string{"pinned"},
		SelectedLocations:   []string{},
		TagOOSProduct:       true,
		OOSProductTag:       "out-of-stock",
		EnableHiding:        true,
		HidingChannel:       model.HidingChannelOnlineStore,
		HideAfterDays:       3,
		ExcludeHideTags:     []string{"never-hide"},
		TagHiddenProduct:    true,
		HiddenProductTag:    "hidden-oos",
		RepublishHidden:     true,
		PublicationID:       "gid://shopify/Publication/1",
	}
}
