package bulkexport

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/shelfsort/internal/domain/model"
	apperrors "github.com/acme/shelfsort/internal/errors"
)

func parseString(t *testing.T, s string) *Result {
	t.Helper()
	res, err := Parse(context.Background(), strings.NewReader(s), ParseOptions{})
	require.NoError(t, err)
	return res
}

func TestDecodeCollection(t *testing.T) {
	exp, err := DecodeCollection(parseString(t, sampleExport))
	require.NoError(t, err)

	assert.Equal(t, "gid://shopify/Collection/9", exp.CollectionID)
	assert.Equal(t, []string{"gid://shopify/Product/1", "gid://shopify/Product/2"}, model.ItemIDs(exp.Ordered))
	assert.Equal(t, []string{"gid://shopify/Product/2", "gid://shopify/Product/1"}, exp.Default)

	hat := exp.Ordered[0]
	assert.Equal(t, "Hat", hat.Title)
	assert.True(t, hat.TracksInventory)
	require.Len(t, hat.Variants, 1)
	v := hat.Variants[0]
	assert.Equal(t, model.InventoryPolicyDeny, v.InventoryPolicy)
	assert.True(t, v.InventoryItem.Tracked)
	require.Contains(t, v.InventoryItem.Levels, "5")
	require.NotNil(t, v.InventoryItem.Levels["5"])
	assert.Equal(t, 0, *v.InventoryItem.Levels["5"])

	capItem := exp.Ordered[1]
	require.Len(t, capItem.Variants, 1)
	assert.Contains(t, capItem.Variants[0].InventoryItem.Levels, "5")
	assert.Nil(t, capItem.Variants[0].InventoryItem.Levels["5"])
}

func TestDecodeCollection_ProductWithoutVariantsHasEmptySlice(t *testing.T) {
	input := `{"id":"c"}
{"id":"p1","tracksInventory":true,"__parentId":"c"}
{"id":"p1","__parentId":"c"}
`
	exp, err := DecodeCollection(parseString(t, input))
	require.NoError(t, err)
	require.Len(t, exp.Ordered, 1)
	assert.NotNil(t, exp.Ordered[0].Variants)
	assert.Empty(t, exp.Ordered[0].Variants)
}

func TestDecodeCollection_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "no collection", input: ""},
		{name: "two collections", input: `{"id":"a"}` + "\n" + `{"id":"b"}` + "\n"},
		{
			name:  "odd product rows",
			input: `{"id":"c"}` + "\n" + `{"id":"p1","__parentId":"c"}` + "\n",
		},
		{
			name: "halves disagree",
			input: `{"id":"c"}
{"id":"p1","__parentId":"c"}
{"id":"p2","__parentId":"c"}
{"id":"p1","__parentId":"c"}
{"id":"p3","__parentId":"c"}
`,
		},
		{
			name: "duplicate in merchant sort",
			input: `{"id":"c"}
{"id":"p1","__parentId":"c"}
{"id":"p1","__parentId":"c"}
{"id":"p1","__parentId":"c"}
{"id":"p1","__parentId":"c"}
`,
		},
		{
			name: "bad inventory level",
			input: `{"id":"c"}
{"id":"p1","__parentId":"c"}
{"id":"v1","inventoryItem":{"tracked":true,"L1":{"quantities":"nope"}},"__parentId":"p1"}
{"id":"p1","__parentId":"c"}
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCollection(parseString(t, tt.input))
			require.Error(t, err)
			assert.True(t, apperrors.IsFormat(err))
		})
	}
}

func TestDecodeVariant(t *testing.T) {
	v, err := DecodeVariant(json.RawMessage(`{
		"inventoryQuantity": 0,
		"inventoryPolicy": "continue",
		"inventoryItem": {"tracked": true, "L42": {"quantities": [{"quantity": 3}]}, "L7": null}
	}`))
	require.NoError(t, err)
	assert.True(t, v.InventoryItem.Tracked)
	assert.Equal(t, model.InventoryPolicyContinue, v.InventoryPolicy)
	require.Contains(t, v.InventoryItem.Levels, "42")
	assert.Equal(t, 3, *v.InventoryItem.Levels["42"])
	assert.Nil(t, v.InventoryItem.Levels["7"])
	assert.Equal(t, "L42", LocationAlias("42"))
}
