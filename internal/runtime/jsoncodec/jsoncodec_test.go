package jsoncodec

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := testPayload{ID: 42, Name: "rule-engine"}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var out testPayload
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if out != in {
		t.Fatalf("expected round trip to match, got %#v", out)
	}

	indented, err := MarshalIndent(in, "", "  ")
	if err != nil {
		t.Fatalf("marshal indent failed: %v", err)
	}
	if !strings.Contains(string(indented), "\n  \"id\"") {
		t.Fatalf("expected indented output, got %s", string(indented))
	}
}

func TestEncodeAndDecode(t *testing.T) {
	buf := &bytes.Buffer{}
	payload := testPayload{ID: 7, Name: "stream"}

	if err := Encode(buf, payload); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var decoded testPayload
	if err := Decode(buf, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if decoded != payload {
		t.Fatalf("expected decoded payload to match, got %#v", decoded)
	}
}

type node struct {
	Name     string         `json:"name"`
	Parent   *node          `json:"parent,omitempty"`
	Children []*node        `json:"children,omitempty"`
	Labels   map[string]any `json:"labels,omitempty"`
	Seen     time.Time      `json:"seen"`
	secret   string
}

func TestIgnoreLoopsCutsParentCycle(t *testing.T) {
	root := &node{Name: "root", secret: "hidden"}
	child := &node{Name: "child", Parent: root}
	root.Children = []*node{child}

	data, err := Marshal(root, IgnoreLoops(true))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, Unmarshal(data, &decoded))
	assert.Equal(t, "root", decoded["name"])

	children := decoded["children"].([]any)
	require.Len(t, children, 1)
	first := children[0].(map[string]any)
	assert.Equal(t, "child", first["name"])
	_, hasParent := first["parent"]
	assert.False(t, hasParent, "loop back to root should be dropped")
	assert.NotContains(t, string(data), "hidden")
}

func TestIgnoreLoopsSelfReferencingMap(t *testing.T) {
	labels := map[string]any{"kind": "workflow"}
	labels["self"] = labels

	data, err := Marshal(&node{Name: "n", Labels: labels}, IgnoreLoops(true))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"workflow"`)
	assert.Contains(t, string(data), `"self":null`)
}

func TestIgnoreLoopsKeepsSharedReferences(t *testing.T) {
	shared := &node{Name: "shared"}
	pair := struct {
		Left  *node `json:"left"`
		Right *node `json:"right"`
	}{shared, shared}

	data, err := Marshal(pair, IgnoreLoops(true))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), `"name":"shared"`))
}

func TestIgnoreLoopsMatchesMarshalWithoutCycles(t *testing.T) {
	seen := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &node{Name: "plain", Seen: seen, Children: []*node{{Name: "leaf", Seen: seen}}}

	want, err := Marshal(in)
	require.NoError(t, err)
	got, err := Marshal(in, IgnoreLoops(true))
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))

	off, err := Marshal(in, IgnoreLoops(false))
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(off))

	null, err := Marshal(nil, IgnoreLoops(true))
	require.NoError(t, err)
	assert.Equal(t, "null", string(null))
}

type jobRef struct {
	TaskName string `json:"taskName"`
	retries  int
}

type scheduledJob struct {
	jobRef
	*stepRef
	JobID string `json:"jobId"`
}

type stepRef struct {
	Step int `json:"step"`
}

func TestIgnoreLoopsKeepsPromotedFieldsOfUnexportedEmbeds(t *testing.T) {
	in := scheduledJob{jobRef: jobRef{TaskName: "calc", retries: 3}, stepRef: &stepRef{Step: 2}, JobID: "j1"}

	want, err := Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"taskName":"calc","step":2,"jobId":"j1"}`, string(want))

	got, err := Marshal(in, IgnoreLoops(true))
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))

	got, err = Marshal(&scheduledJob{jobRef: jobRef{TaskName: "calc"}, JobID: "j2"}, IgnoreLoops(true))
	require.NoError(t, err)
	assert.JSONEq(t, `{"taskName":"calc","jobId":"j2"}`, string(got))
}
