package tree

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-revisions/internal/ot/delta"
)

func apply(t *testing.T, root any, op Op) any {
	t.Helper()
	out, err := Apply(root, op)
	require.NoError(t, err)
	return out
}

// converge applies committed then the transformed incoming op, and the other
// way round, and returns both trees.
func converge(t *testing.T, base any, committed, incoming Op) (any, any) {
	t.Helper()
	left := apply(t, apply(t, base, committed), Transform(incoming, committed, false))
	right := apply(t, apply(t, base, incoming), Transform(committed, incoming, true))
	return left, right
}

func leafText(t *testing.T, v any) string {
	t.Helper()
	d, err := LeafDelta(v)
	require.NoError(t, err)
	return d.PlainText()
}

func TestApply_DoesNotModifyInput(t *testing.T) {
	base := map[string]any{"items": []any{"a"}}

	out := apply(t, base, Op{{Path: Path{"items", 1}, Kind: ListInsert, Value: "b"}})

	assert.Equal(t, map[string]any{"items": []any{"a"}}, base)
	assert.Equal(t, map[string]any{"items": []any{"a", "b"}}, out)
}

func TestApply_ObjectEdits(t *testing.T) {
	base := map[string]any{"title": "x", "size": 1.0}

	out := apply(t, base, Op{
		{Path: Path{"title"}, Kind: ObjectReplace, Value: "y", Old: "x"},
		{Path: Path{"size"}, Kind: ObjectDelete, Old: 1.0},
		{Path: Path{"tags"}, Kind: ObjectInsert, Value: []any{"draft"}},
	})

	assert.Equal(t, map[string]any{"title": "y", "tags": []any{"draft"}}, out)
}

func TestApply_ListMove(t *testing.T) {
	base := map[string]any{"l": []any{"a", "b", "c"}}

	out := apply(t, base, Op{{Path: Path{"l", 0}, Kind: ListMove, To: 2}})

	assert.Equal(t, map[string]any{"l": []any{"b", "c", "a"}}, out)
}

func TestApply_TextOnStringLeaf(t *testing.T) {
	base := map[string]any{"title": "hello"}

	out := apply(t, base, Op{{Path: Path{"title"}, Kind: TextEdit, Text: delta.Delta{}.Retain(5, nil).Insert(" world", nil)}})

	assert.Equal(t, "hello world", leafText(t, out.(map[string]any)["title"]))
}

func TestApply_OutOfRange(t *testing.T) {
	base := map[string]any{"l": []any{"a"}}

	_, err := Apply(base, Op{{Path: Path{"l", 3}, Kind: ListDelete}})
	assert.Error(t, err)

	_, err = Apply(base, Op{{Path: Path{"missing", 0}, Kind: ListInsert, Value: "x"}})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		op   Op
		ok   bool
	}{
		{"list insert", Op{{Path: Path{"l", 0}, Kind: ListInsert, Value: 1}}, true},
		{"object insert", Op{{Path: Path{"k"}, Kind: ObjectInsert, Value: 1}}, true},
		{"text", Op{{Path: Path{"k"}, Kind: TextEdit, Text: delta.Delta{}.Insert("a", nil)}}, true},
		{"empty path", Op{{Kind: ObjectInsert}}, false},
		{"list kind with key", Op{{Path: Path{"l", "x"}, Kind: ListDelete}}, false},
		{"object kind with index", Op{{Path: Path{0}, Kind: ObjectDelete}}, false},
		{"negative move", Op{{Path: Path{"l", 0}, Kind: ListMove, To: -1}}, false},
		{"unknown kind", Op{{Path: Path{"k"}, Kind: "swap"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestComponent_UnmarshalPath(t *testing.T) {
	var c Component
	err := json.Unmarshal([]byte(`{"path":["blocks",0,"body"],"kind":"text","text":[{"kind":"retain","count":2}]}`), &c)

	require.NoError(t, err)
	assert.Equal(t, Path{"blocks", 0, "body"}, c.Path)
	assert.Equal(t, delta.Delta{}.Retain(2, nil), c.Text)

	err = json.Unmarshal([]byte(`{"path":["blocks",1.5],"kind":"list-delete"}`), &c)
	assert.Error(t, err)
}

func TestCompose_MergesTextEditsOnSameLeaf(t *testing.T) {
	a := Op{{Path: Path{"title"}, Kind: TextEdit, Text: delta.Delta{}.Insert("ab", nil)}}
	b := Op{{Path: Path{"title"}, Kind: TextEdit, Text: delta.Delta{}.Retain(2, nil).Insert("c", nil)}}

	out := Compose(a, b)

	require.Len(t, out, 1)
	assert.Equal(t, delta.Delta{}.Insert("abc", nil), out[0].Text)
}

func TestTransform_ListInsertSameIndex(t *testing.T) {
	base := map[string]any{"items": []any{"a", "b"}}
	committed := Op{{Path: Path{"items", 1}, Kind: ListInsert, Value: "x"}}
	incoming := Op{{Path: Path{"items", 1}, Kind: ListInsert, Value: "y"}}

	left, right := converge(t, base, committed, incoming)

	assert.Equal(t, map[string]any{"items": []any{"a", "x", "y", "b"}}, left)
	assert.Equal(t, left, right)
}

func TestTransform_DeleteSwallowsEditInside(t *testing.T) {
	base := map[string]any{"blocks": []any{map[string]any{"body": "hello"}}}
	committed := Op{{Path: Path{"blocks", 0}, Kind: ListDelete, Old: map[string]any{"body": "hello"}}}
	incoming := Op{{Path: Path{"blocks", 0, "body"}, Kind: TextEdit, Text: delta.Delta{}.Retain(5, nil).Insert(" world", nil)}}

	assert.Empty(t, Transform(incoming, committed, false))

	left, right := converge(t, base, committed, incoming)
	assert.Equal(t, map[string]any{"blocks": []any{}}, left)
	assert.Equal(t, left, right)
}

func TestTransform_ObjectInsertSameKey(t *testing.T) {
	base := map[string]any{}
	committed := Op{{Path: Path{"title"}, Kind: ObjectInsert, Value: "A"}}
	incoming := Op{{Path: Path{"title"}, Kind: ObjectInsert, Value: "B"}}

	left, right := converge(t, base, committed, incoming)

	assert.Equal(t, map[string]any{"title": "A"}, left)
	assert.Equal(t, left, right)
}

func TestTransform_TextOnSameLeaf(t *testing.T) {
	base := map[string]any{"title": "ab"}
	committed := Op{{Path: Path{"title"}, Kind: TextEdit, Text: delta.Delta{}.Retain(1, nil).Insert("X", nil)}}
	incoming := Op{{Path: Path{"title"}, Kind: TextEdit, Text: delta.Delta{}.Retain(1, nil).Insert("Y", nil)}}

	left, right := converge(t, base, committed, incoming)

	assert.Equal(t, "aXYb", leafText(t, left.(map[string]any)["title"]))
	assert.Equal(t, left, right)
}

func TestTransform_InsertShiftsNestedPath(t *testing.T) {
	base := map[string]any{"blocks": []any{"a", "b"}}
	committed := Op{{Path: Path{"blocks", 0}, Kind: ListInsert, Value: "z"}}
	incoming := Op{{Path: Path{"blocks", 1}, Kind: TextEdit, Text: delta.Delta{}.Retain(1, nil).Insert("!", nil)}}

	transformed := Transform(incoming, committed, false)
	require.Len(t, transformed, 1)
	assert.Equal(t, Path{"blocks", 2}, transformed[0].Path)

	left, right := converge(t, base, committed, incoming)
	assert.Equal(t, left, right)
	assert.Equal(t, "b!", leafText(t, left.(map[string]any)["blocks"].([]any)[2]))
}

func TestTransform_InsertAgainstMove(t *testing.T) {
	base := map[string]any{"l": []any{"a", "b", "c"}}
	committed := Op{{Path: Path{"l", 0}, Kind: ListMove, To: 2}}
	incoming := Op{{Path: Path{"l", 3}, Kind: ListInsert, Value: "d"}}

	left, right := converge(t, base, committed, incoming)

	assert.Equal(t, map[string]any{"l": []any{"b", "c", "a", "d"}}, left)
	assert.Equal(t, left, right)
}

func TestTransform_UnrelatedPathsUntouched(t *testing.T) {
	committed := Op{{Path: Path{"a"}, Kind: ObjectInsert, Value: 1.0}}
	incoming := Op{{Path: Path{"b"}, Kind: ObjectInsert, Value: 2.0}}

	assert.Equal(t, incoming, Transform(incoming, committed, false))
}

func TestReplay_SkipsComponentsThatDoNotFit(t *testing.T) {
	base := map[string]any{"l": []any{"a"}}
	op := Op{
		{Path: Path{"l", 3}, Kind: ListDelete},
		{Path: Path{"missing", 0}, Kind: ListInsert, Value: "x"},
		{Path: Path{"l", 1}, Kind: ListInsert, Value: "b"},
	}

	out, skipped := Replay(base, op)

	assert.Equal(t, 2, skipped)
	assert.Equal(t, map[string]any{"l": []any{"a", "b"}}, out)
	assert.Equal(t, map[string]any{"l": []any{"a"}}, base)
}

func TestReplay_TextEditPastTheEndKeepsInserts(t *testing.T) {
	base := map[string]any{"title": "hi"}
	op := Op{{Path: Path{"title"}, Kind: TextEdit, Text: delta.Delta{}.Retain(9, nil).Insert("!", nil)}}

	out, skipped := Replay(base, op)

	assert.Zero(t, skipped)
	assert.Equal(t, "hi!", leafText(t, out.(map[string]any)["title"]))
}
