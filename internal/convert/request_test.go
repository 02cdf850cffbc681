package convert

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToKiroSystemStringAndArrayProduceIdenticalBodies(t *testing.T) {
	stringBody := []byte(`{"model":"claude-3","messages":[{"role":"user","content":"hi"}],"system":"Be brief"}`)
	arrayBody := []byte(`{"model":"claude-3","messages":[{"role":"user","content":"hi"}],"system":[{"type":"text","text":"Be brief"}]}`)

	out1, err := ToKiro(Request{Body: stringBody, Model: "claude-sonnet-4.5"})
	require.NoError(t, err)
	out2, err := ToKiro(Request{Body: arrayBody, Model: "claude-sonnet-4.5"})
	require.NoError(t, err)

	assert.Equal(t, out1, out2)
}

func TestToKiroMultiBlockSystemArrayJoined(t *testing.T) {
	body := []byte(`{"messages":[],"system":[{"type":"text","text":"one"},{"type":"text","text":"two"}]}`)
	out, err := ToKiro(Request{Body: body})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "one\n\ntwo", decoded["system"])
}

func TestToKiroDropsOrphanedToolUse(t *testing.T) {
	body := []byte(`{
		"messages": [
			{"role": "assistant", "content": [
				{"type": "tool_use", "id": "t1", "name": "calc", "input": {}},
				{"type": "tool_use", "id": "t2", "name": "calc", "input": {}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "t1", "content": "4"}
			]}
		]
	}`)

	out, err := ToKiro(Request{Body: body})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	messages := decoded["messages"].([]any)
	assistant := messages[0].(map[string]any)
	content := assistant["content"].([]any)

	// t2 is dropped; with no text block left, the "OK" placeholder is
	// prepended ahead of the surviving t1.
	require.Len(t, content, 2)
	block := content[1].(map[string]any)
	assert.Equal(t, "t1", block["id"])
}

func TestToKiroInjectsPlaceholderWhenOnlyToolUseRemains(t *testing.T) {
	body := []byte(`{
		"messages": [
			{"role": "assistant", "content": [
				{"type": "tool_use", "id": "t1", "name": "calc", "input": {}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "t1", "content": "4"}
			]}
		]
	}`)

	out, err := ToKiro(Request{Body: body})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	messages := decoded["messages"].([]any)
	assistant := messages[0].(map[string]any)
	content := assistant["content"].([]any)

	require.Len(t, content, 2)
	first := content[0].(map[string]any)
	assert.Equal(t, "text", first["type"])
	assert.Equal(t, "OK", first["text"])
}

func TestToKiroInjectsModelAndProfileArn(t *testing.T) {
	body := []byte(`{"messages":[]}`)
	out, err := ToKiro(Request{Body: body, Model: "claude-opus-4.5", ProfileArn: "arn:aws:fake"})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "claude-opus-4.5", decoded["model"])
	assert.Equal(t, "arn:aws:fake", decoded["profileArn"])
}

func TestReinjectProfileArnOverwritesExisting(t *testing.T) {
	body := []byte(`{"profileArn":"old","messages":[]}`)
	out, err := ReinjectProfileArn(body, "new")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "new", decoded["profileArn"])
}

func TestMapModelGlobRules(t *testing.T) {
	cases := map[string]string{
		"claude-3-5-sonnet-20241022": "claude-sonnet-4.5",
		"some-opus-variant":          "claude-opus-4.5",
		"tiny-haiku":                 "claude-haiku-4.5",
		"gpt-4":                      "gpt-4",
	}
	for in, want := range cases {
		assert.Equal(t, want, MapModel(in), in)
	}
}
