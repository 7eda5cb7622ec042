package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heyconcierge/relay/internal/brand"
)

func TestRunExtractFindsRecord(t *testing.T) {
	var out bytes.Buffer
	err := runExtract(&out, "ok ```handoff {\"kind\":\"order\",\"payload\":{\"qty\":2}}``` bye", nil)
	require.NoError(t, err)
	assert.Contains(t, out.String(), `"kind": "order"`)
	assert.Contains(t, out.String(), `"grammar": "keyword_fence"`)
	assert.Contains(t, out.String(), `"status": "valid"`)
}

func TestRunExtractNothingFound(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runExtract(&out, "just a normal reply", nil))
	assert.Contains(t, out.String(), "no handoff record found")
}

func TestRunExtractWithBrandRules(t *testing.T) {
	b := &brand.Brand{
		Key:            "vineyard",
		DisplayName:    "Vineyard Estate",
		PublishedPhone: "+90 212 345 67 89",
	}
	var out bytes.Buffer
	text := "<handoff>{\"kind\":\"customer_request\",\"payload\":{\"full_name\":\"Ayşe\",\"phone\":\"0212 345 67 89\",\"summary\":\"Wants a weekend tasting slot.\"}}</handoff>"
	require.NoError(t, runExtract(&out, text, b))
	assert.Contains(t, out.String(), "rejected")
}
