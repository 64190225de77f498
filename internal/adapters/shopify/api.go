package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/acme/shelfsort/internal/core"
	"github.com/acme/shelfsort/internal/domain/bulkexport"
	"github.com/acme/shelfsort/internal/domain/model"
	"github.com/acme/shelfsort/internal/domain/reorder"
	apperrors "github.com/acme/shelfsort/internal/errors"
)

// operationInProgress is the userErrors code returned while another bulk query runs.
const operationInProgress = "OPERATION_IN_PROGRESS"

// API implements core.ShopAPI on top of Client.
type API struct {
	client *Client
}

var _ core.ShopAPI = (*API)(nil)

// NewAPI wraps client.
func NewAPI(client *Client) *API {
	return &API{client: client}
}

type userError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
}

// userErrorsToErr maps mutation userErrors. OPERATION_IN_PROGRESS is busy, anything else a rejection.
func userErrorsToErr(op string, errs []userError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Code == operationInProgress || strings.Contains(strings.ToLower(e.Message), "already in progress") {
			return apperrors.UpstreamBusy(op+": "+e.Message, defaultBusyRetry)
		}
		msg := e.Message
		if len(e.Field) > 0 {
			msg = strings.Join(e.Field, ".") + ": " + msg
		}
		msgs = append(msgs, msg)
	}
	return apperrors.UpstreamRejectedf("%s: %s", op, strings.Join(msgs, "; "))
}

// CurrentBulkOperation returns the shop's latest bulk query, or nil.
func (a *API) CurrentBulkOperation(ctx context.Context, shop string) (*model.UpstreamBulkOperation, error) {
	resp, err := a.client.Execute(ctx, shop, currentBulkOperationQuery, nil)
	if err != nil {
		return nil, err
	}
	var data struct {
		CurrentBulkOperation *model.UpstreamBulkOperation `json:"currentBulkOperation"`
	}
	if err := resp.Decode(&data); err != nil {
		return nil, err
	}
	return data.CurrentBulkOperation, nil
}

// StartCollectionExport starts a bulk query over the collection's products.
func (a *API) StartCollectionExport(ctx context.Context, req core.ExportRequest) (*model.UpstreamBulkOperation, error) {
	query := collectionExportQuery(model.AdminGID("Collection", req.CollectionID), req.Sort, req.Locations)
	resp, err := a.client.Execute(ctx, req.Shop, bulkOperationRunQueryMutation, map[string]any{"query": query})
	if err != nil {
		return nil, err
	}
	var data struct {
		BulkOperationRunQuery *struct {
			BulkOperation *model.UpstreamBulkOperation `json:"bulkOperation"`
			UserErrors    []userError                  `json:"userErrors"`
		} `json:"bulkOperationRunQuery"`
	}
	if err := resp.Decode(&data); err != nil {
		return nil, err
	}
	run := data.BulkOperationRunQuery
	if run == nil {
		return nil, apperrors.UpstreamRejectedf("bulkOperationRunQuery: empty response")
	}
	if err := userErrorsToErr("bulkOperationRunQuery", run.UserErrors); err != nil {
		return nil, err
	}
	if run.BulkOperation == nil || run.BulkOperation.ID == "" {
		return nil, apperrors.UpstreamRejectedf("bulkOperationRunQuery: no operation returned")
	}
	return run.BulkOperation, nil
}

// BulkOperation fetches an operation by gid, or nil when unknown.
func (a *API) BulkOperation(ctx context.Context, shop, id string) (*model.UpstreamBulkOperation, error) {
	resp, err := a.client.Execute(ctx, shop, bulkOperationNodeQuery, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	var data struct {
		Node *model.UpstreamBulkOperation `json:"node"`
	}
	if err := resp.Decode(&data); err != nil {
		return nil, err
	}
	if data.Node == nil {
		return nil, nil
	}
	if data.Node.ID == "" {
		data.Node.ID = id
	}
	return data.Node, nil
}

// DownloadExport opens the export file.
func (a *API) DownloadExport(ctx context.Context, url string) (io.ReadCloser, error) {
	if url == "" {
		return nil, errors.New("export url is required")
	}
	return a.client.Download(ctx, url)
}

// SetCollectionSortOrder updates the collection's sort order.
func (a *API) SetCollectionSortOrder(ctx context.Context, params core.SortOrderParams) error {
	input := map[string]any{
		"id":        model.AdminGID("Collection", params.CollectionID),
		"sortOrder": string(params.Sorting),
	}
	return a.mutate(ctx, params.Shop, "collectionUpdate", collectionUpdateMutation, map[string]any{"input": input})
}

type moveInput struct {
	ID          string `json:"id"`
	NewPosition string `json:"newPosition"`
}

// ReorderCollection submits moves in order, in batches of reorder.MaxMovesPerRequest.
// Moves are sequential, so every batch is valid against the order the previous one left.
// The count of applied moves is returned alongside any error so callers can record
// partial progress.
func (a *API) ReorderCollection(ctx context.Context, params core.ReorderParams) (int, error) {
	collection := model.AdminGID("Collection", params.CollectionID)
	applied := 0
	for _, batch := range reorder.Chunk(params.Moves, reorder.MaxMovesPerRequest) {
		chunk := make([]moveInput, 0, len(batch))
		for _, m := range batch {
			chunk = append(chunk, moveInput{
				ID:          model.AdminGID("Product", m.ID),
				NewPosition: strconv.Itoa(m.NewPosition),
			})
		}
		vars := map[string]any{"id": collection, "moves": chunk}
		if err := a.mutate(ctx, params.Shop, "collectionReorderProducts", collectionReorderMutation, vars); err != nil {
			return applied, err
		}
		applied += len(chunk)
	}
	return applied, nil
}

// ProductCollections lists legacy ids of collections that contain the product.
func (a *API) ProductCollections(ctx context.Context, shop, productID string) ([]string, error) {
	nodes, err := a.client.FetchAll(ctx, shop, PageQuery{
		Query:     productCollectionsQuery,
		Variables: map[string]any{"id": model.AdminGID("Product", productID)},
		Path:      "product.collections",
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(nodes))
	for _, raw := range nodes {
		var n struct {
			LegacyResourceID string `json:"legacyResourceId"`
		}
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, apperrors.Formatf("decode collection node: %v", err)
		}
		if n.LegacyResourceID != "" {
			ids = append(ids, n.LegacyResourceID)
		}
	}
	return ids, nil
}

// ProductVariants returns the product's variants with levels at the given locations.
func (a *API) ProductVariants(ctx context.Context, params core.ProductVariantsParams) ([]model.Variant, error) {
	nodes, err := a.client.FetchAll(ctx, params.Shop, PageQuery{
		Query:     productVariantsQuery(params.Locations),
		Variables: map[string]any{"id": model.AdminGID("Product", params.ProductID)},
		Path:      "product.variants",
	})
	if err != nil {
		return nil, err
	}
	variants := make([]model.Variant, 0, len(nodes))
	for _, raw := range nodes {
		v, err := bulkexport.DecodeVariant(raw)
		if err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, nil
}

// AddTags adds tags to a product.
func (a *API) AddTags(ctx context.Context, params core.TagsParams) error {
	if len(params.Tags) == 0 {
		return nil
	}
	vars := map[string]any{"id": model.AdminGID("Product", params.ProductID), "tags": params.Tags}
	return a.mutate(ctx, params.Shop, "tagsAdd", tagsAddMutation, vars)
}

// RemoveTags removes tags from a product.
func (a *API) RemoveTags(ctx context.Context, params core.TagsParams) error {
	if len(params.Tags) == 0 {
		return nil
	}
	vars := map[string]any{"id": model.AdminGID("Product", params.ProductID), "tags": params.Tags}
	return a.mutate(ctx, params.Shop, "tagsRemove", tagsRemoveMutation, vars)
}

// SetPublished publishes or unpublishes the product on one publication.
func (a *API) SetPublished(ctx context.Context, params core.PublicationParams) error {
	if params.PublicationID == "" {
		return apperrors.Validation("publication id is required")
	}
	input := map[string]any{
		"id": model.AdminGID("Product", params.ProductID),
		"productPublications": []map[string]string{
			{"publicationId": model.AdminGID("Publication", params.PublicationID)},
		},
	}
	op, query := "productUnpublish", productUnpublishMutation
	if params.Published {
		op, query = "productPublish", productPublishMutation
	}
	return a.mutate(ctx, params.Shop, op, query, map[string]any{"input": input})
}

// SetProductStatus changes the product's status.
func (a *API) SetProductStatus(ctx context.Context, params core.ProductStatusParams) error {
	input := map[string]any{
		"id":     model.AdminGID("Product", params.ProductID),
		"status": string(params.Status),
	}
	return a.mutate(ctx, params.Shop, "productUpdate", productUpdateMutation, map[string]any{"input": input})
}

// mutate executes a mutation whose payload sits under op and carries userErrors.
func (a *API) mutate(ctx context.Context, shop, op, query string, vars map[string]any) error {
	resp, err := a.client.Execute(ctx, shop, query, vars)
	if err != nil {
		return err
	}
	var data map[string]*struct {
		UserErrors []userError `json:"userErrors"`
	}
	if err := resp.Decode(&data); err != nil {
		return err
	}
	payload, ok := data[op]
	if !ok || payload == nil {
		if data == nil {
			return apperrors.UpstreamRejectedf("%s: resource not found", op)
		}
		return apperrors.UpstreamRejectedf("%s: empty response", op)
	}
	if err := userErrorsToErr(op, payload.UserErrors); err != nil {
		return fmt.Errorf("shop %s: %w", shop, err)
	}
	return nil
}
