package shopify

import (
	"fmt"
	"strings"

	"github.com/acme/shelfsort/internal/domain/bulkexport"
	"github.com/acme/shelfsort/internal/domain/model"
)

const currentBulkOperationQuery = `query {
  currentBulkOperation {
    id
    status
    errorCode
    createdAt
    completedAt
    objectCount
    url
    partialDataUrl
  }
}`

const bulkOperationNodeQuery = `query ($id: ID!) {
  node(id: $id) {
    ... on BulkOperation {
      id
      url
      partialDataUrl
      status
      objectCount
      createdAt
      completedAt
      errorCode
    }
  }
}`

const bulkOperationRunQueryMutation = `mutation ($query: String!) {
  bulkOperationRunQuery(query: $query) {
    bulkOperation {
      id
      status
      createdAt
    }
    userErrors {
      field
      message
      code
    }
  }
}`

const collectionExportTemplate = `{
  collection(id: %q) {
    id
    legacyResourceId
    title
    currentSorting: products(%s) {
      edges {
        node {
          id
          legacyResourceId
          title
          tracksInventory
          totalInventory
          variants(first: 250) {
            edges {
              node {
                id
                inventoryQuantity
                inventoryPolicy
                inventoryItem {
                  tracked
%s
                }
              }
            }
          }
          tags
        }
      }
    }
    defaultSorting: products(sortKey: COLLECTION_DEFAULT) {
      edges {
        node {
          id
          legacyResourceId
          title
        }
      }
    }
  }
}`

const collectionUpdateMutation = `mutation ($input: CollectionInput!) {
  collectionUpdate(input: $input) {
    collection {
      id
      sortOrder
    }
    userErrors {
      field
      message
    }
  }
}`

const collectionReorderMutation = `mutation ($id: ID!, $moves: [MoveInput!]!) {
  collectionReorderProducts(id: $id, moves: $moves) {
    job {
      id
    }
    userErrors {
      field
      message
    }
  }
}`

const productCollectionsQuery = `query ($id: ID!, $after: String) {
  product(id: $id) {
    collections(first: 250, after: $after) {
      nodes {
        legacyResourceId
      }
      pageInfo {
        hasNextPage
        endCursor
      }
    }
  }
}`

const productVariantsTemplate = `query ($id: ID!, $after: String) {
  product(id: $id) {
    variants(first: 250, after: $after) {
      nodes {
        id
        inventoryQuantity
        inventoryPolicy
        inventoryItem {
          tracked
%s
        }
      }
      pageInfo {
        hasNextPage
        endCursor
      }
    }
  }
}`

const tagsAddMutation = `mutation ($id: ID!, $tags: [String!]!) {
  tagsAdd(id: $id, tags: $tags) {
    node {
      id
    }
    userErrors {
      field
      message
    }
  }
}`

const tagsRemoveMutation = `mutation ($id: ID!, $tags: [String!]!) {
  tagsRemove(id: $id, tags: $tags) {
    node {
      id
    }
    userErrors {
      field
      message
    }
  }
}`

const productPublishMutation = `mutation ($input: ProductPublishInput!) {
  productPublish(input: $input) {
    product {
      id
    }
    userErrors {
      field
      message
    }
  }
}`

const productUnpublishMutation = `mutation ($input: ProductUnpublishInput!) {
  productUnpublish(input: $input) {
    product {
      id
    }
    userErrors {
      field
      message
    }
  }
}`

const productUpdateMutation = `mutation ($input: ProductInput!) {
  productUpdate(input: $input) {
    product {
      id
      status
    }
    userErrors {
      field
      message
    }
  }
}`

// locationLevels renders one aliased inventoryLevel selection per location.
func locationLevels(locations []string) string {
	var b strings.Builder
	for _, loc := range locations {
		id := legacyLocationID(loc)
		fmt.Fprintf(&b, "                  %s: inventoryLevel(locationId: %q) {\n", bulkexport.LocationAlias(id), model.AdminGID("Location", id))
		b.WriteString("                    id\n")
		b.WriteString("                    quantities(names: [\"available\"]) {\n")
		b.WriteString("                      quantity\n")
		b.WriteString("                    }\n")
		b.WriteString("                  }\n")
	}
	return b.String()
}

// legacyLocationID accepts either a numeric id or a Location gid.
func legacyLocationID(loc string) string {
	if id, err := model.LegacyID(loc, "Location"); err == nil {
		return id
	}
	return loc
}

func productFilter(sort model.SortSpec) string {
	if sort.SortKey == "" {
		sort = model.CollectionSortingBestSelling.SortSpec()
	}
	if sort.Reverse {
		return "sortKey: " + sort.SortKey + ", reverse: true"
	}
	return "sortKey: " + sort.SortKey
}

// collectionExportQuery builds the bulk query exporting a collection in its current and default order.
func collectionExportQuery(collectionGID string, sort model.SortSpec, locations []string) string {
	return fmt.Sprintf(collectionExportTemplate, collectionGID, productFilter(sort), locationLevels(locations))
}

func productVariantsQuery(locations []string) string {
	return fmt.Sprintf(productVariantsTemplate, locationLevels(locations))
}
