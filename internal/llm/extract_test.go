package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verdict struct {
	Index    int    `json:"index"`
	Category string `json:"category"`
}

func TestExtractArrayStrictJSON(t *testing.T) {
	var out []verdict
	res, err := ExtractArray(`[{"index":0,"category":"spam"}]`, &out)
	require.NoError(t, err)
	assert.Equal(t, ParsedStrict, res)
	require.Len(t, out, 1)
	assert.Equal(t, "spam", out[0].Category)
}

func TestExtractArrayFencedJSON(t *testing.T) {
	content := "```json\n[{\"index\":0,\"category\":\"spam\"}]\n```"
	var out []verdict
	res, err := ExtractArray(content, &out)
	require.NoError(t, err)
	assert.Equal(t, ParsedSalvaged, res)
	require.Len(t, out, 1)
}

func TestExtractArrayEmbeddedInProse(t *testing.T) {
	content := `Sure, here is your result:

[{"index":0,"category":"spam"},{"index":1,"category":"customer_inquiry"}]

Let me know if you need anything else!`
	var out []verdict
	res, err := ExtractArray(content, &out)
	require.NoError(t, err)
	assert.Equal(t, ParsedSalvaged, res)
	assert.Len(t, out, 2)
}

func TestExtractArrayBraceScanSalvage(t *testing.T) {
	// No array brackets at all; objects scattered in prose.
	content := `First: {"index":0,"category":"spam"} and second: {"index":1,"category":"notification"} done.`
	var out []verdict
	res, err := ExtractArray(content, &out)
	require.NoError(t, err)
	assert.Equal(t, ParsedSalvaged, res)
	assert.Len(t, out, 2)
}

func TestExtractArrayBracesInsideStrings(t *testing.T) {
	content := `{"index":0,"category":"weird {brace} in \"string\""}`
	var out []verdict
	res, err := ExtractArray(content, &out)
	require.NoError(t, err)
	assert.Equal(t, ParsedSalvaged, res)
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Category, "{brace}")
}

func TestExtractArrayGivesUpOnProse(t *testing.T) {
	var out []verdict
	_, err := ExtractArray("I am sorry, I cannot help with that.", &out)
	assert.Error(t, err)
}

func TestExtractObject(t *testing.T) {
	var out struct {
		Profile string `json:"profile"`
	}

	res, err := ExtractObject(`{"profile":"friendly"}`, &out)
	require.NoError(t, err)
	assert.Equal(t, ParsedStrict, res)
	assert.Equal(t, "friendly", out.Profile)

	out.Profile = ""
	res, err = ExtractObject("Here you go:\n```\n{\"profile\":\"terse\"}\n```", &out)
	require.NoError(t, err)
	assert.Equal(t, ParsedSalvaged, res)
	assert.Equal(t, "terse", out.Profile)

	_, err = ExtractObject("no json here", &out)
	assert.Error(t, err)
}
