package transform

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avmedgw/internal/message"
)

func applyXMLToJSON(t *testing.T, payload string) map[string]any {
	t.Helper()

	unit := NewXMLToJSON("to-json")
	out, err := unit.Apply(context.Background(), message.New([]byte(payload), message.FormatXML))
	require.NoError(t, err)
	require.Equal(t, message.FormatJSON, out.Format())

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out.Payload(), &doc))
	return doc
}

func TestXMLToJSON_Leaf(t *testing.T) {
	t.Parallel()

	doc := applyXMLToJSON(t, `<greeting>hello</greeting>`)
	assert.Equal(t, map[string]any{"greeting": "hello"}, doc)
}

func TestXMLToJSON_Nested(t *testing.T) {
	t.Parallel()

	doc := applyXMLToJSON(t, `<order><id>42</id><customer>acme</customer></order>`)
	assert.Equal(t, map[string]any{
		"order": map[string]any{
			"id":       "42",
			"customer": "acme",
		},
	}, doc)
}

func TestXMLToJSON_Attributes(t *testing.T) {
	t.Parallel()

	doc := applyXMLToJSON(t, `<item sku="a-1">widget</item>`)
	assert.Equal(t, map[string]any{
		"item": map[string]any{
			"@sku":  "a-1",
			"#text": "widget",
		},
	}, doc)
}

func TestXMLToJSON_RepeatedSiblings(t *testing.T) {
	t.Parallel()

	doc := applyXMLToJSON(t, `<cart><item>a</item><item>b</item><item>c</item></cart>`)
	assert.Equal(t, map[string]any{
		"cart": map[string]any{
			"item": []any{"a", "b", "c"},
		},
	}, doc)
}

func TestXMLToJSON_Invalid(t *testing.T) {
	t.Parallel()

	unit := NewXMLToJSON("to-json")
	_, err := unit.Apply(context.Background(), message.New([]byte(`<open>`), message.FormatXML))
	assert.Error(t, err)
}

func TestJSONToXML_Object(t *testing.T) {
	t.Parallel()

	unit := NewJSONToXML("to-xml")
	msg := message.New([]byte(`{"order":{"customer":"acme","id":"42"}}`), message.FormatJSON)

	out, err := unit.Apply(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, message.FormatXML, out.Format())
	assert.Equal(t, `<order><customer>acme</customer><id>42</id></order>`, string(out.Payload()))
}

func TestJSONToXML_ArrayAndAttributes(t *testing.T) {
	t.Parallel()

	unit := NewJSONToXML("to-xml")
	msg := message.New([]byte(`{"cart":{"@currency":"EUR","item":["a","b"]}}`), message.FormatJSON)

	out, err := unit.Apply(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, `<cart currency="EUR"><item>a</item><item>b</item></cart>`, string(out.Payload()))
}

func TestJSONToXML_NonObjectRoot(t *testing.T) {
	t.Parallel()

	unit := NewJSONToXML("to-xml")
	msg := message.New([]byte(`["a","b"]`), message.FormatJSON)

	out, err := unit.Apply(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, `<root>a</root><root>b</root>`, string(out.Payload()))
}

func TestJSONToXML_Invalid(t *testing.T) {
	t.Parallel()

	unit := NewJSONToXML("to-xml")
	_, err := unit.Apply(context.Background(), message.New([]byte(`{`), message.FormatJSON))
	assert.Error(t, err)
}

func TestXMLJSON_RoundTrip(t *testing.T) {
	t.Parallel()

	chain, err := NewChain("round-trip", NewXMLToJSON("to-json"), NewJSONToXML("to-xml"))
	require.NoError(t, err)

	in := `<order id="7"><item>a</item><item>b</item><note>rush</note></order>`
	out, err := chain.Apply(context.Background(), message.New([]byte(in), message.FormatXML))
	require.NoError(t, err)
	assert.Equal(t, `<order id="7"><item>a</item><item>b</item><note>rush</note></order>`, string(out.Payload()))
}
