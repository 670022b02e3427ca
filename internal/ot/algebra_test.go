package ot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-revisions/internal/ot/delta"
	"collab-revisions/internal/ot/tree"
)

func TestText_IncomingYieldsKeepsCommittedInsertFirst(t *testing.T) {
	alg := Text{}
	committed := delta.Delta{}.Insert("hello", nil)
	incoming := delta.Delta{}.Insert("world", nil)

	state, err := alg.Apply(alg.Empty(), committed)
	require.NoError(t, err)
	state, err = alg.Apply(state, alg.Transform(incoming, committed, IncomingYields))
	require.NoError(t, err)

	assert.Equal(t, "helloworld", state.PlainText())
}

func TestText_DecodeEmptyOperation(t *testing.T) {
	op, err := Text{}.DecodeOperation([]byte(`null`))

	require.NoError(t, err)
	assert.Equal(t, delta.Delta{}, op)

	data, err := Text{}.EncodeOperation(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestText_DecodeStateRejectsEdits(t *testing.T) {
	_, err := Text{}.DecodeState([]byte(`[{"kind":"retain","count":1}]`))

	assert.ErrorIs(t, err, delta.ErrInvalidOp)
}

func TestTree_IncomingYieldsKeepsCommittedInsertFirst(t *testing.T) {
	alg := Tree{}
	committed := tree.Op{{Path: tree.Path{"rows", 0}, Kind: tree.ListInsert, Value: "a"}}
	incoming := tree.Op{{Path: tree.Path{"rows", 0}, Kind: tree.ListInsert, Value: "b"}}
	base := map[string]any{"rows": []any{}}

	state, err := alg.Apply(base, committed)
	require.NoError(t, err)
	state, err = alg.Apply(state, alg.Transform(incoming, committed, IncomingYields))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"rows": []any{"a", "b"}}, state)
}

func TestTree_StateRoundTripThroughStorage(t *testing.T) {
	alg := Tree{}
	op, err := alg.DecodeOperation([]byte(`[{"path":["cells",0],"kind":"list-insert","value":{"v":1}}]`))
	require.NoError(t, err)

	state, err := alg.Apply(map[string]any{"cells": []any{}}, op)
	require.NoError(t, err)
	data, err := alg.EncodeState(state)
	require.NoError(t, err)
	decoded, err := alg.DecodeState(data)
	require.NoError(t, err)

	assert.Equal(t, state, decoded)
	assert.Equal(t, map[string]any{}, alg.Empty())
}

func TestText_EmbedSurvivesStorage(t *testing.T) {
	alg := Text{}
	op := delta.Delta{}.InsertEmbed(map[string]any{"image": "a.png"}, nil)

	data, err := alg.EncodeOperation(op)
	require.NoError(t, err)
	decoded, err := alg.DecodeOperation(data)
	require.NoError(t, err)

	require.NoError(t, alg.Validate(decoded))
	assert.Equal(t, 1, decoded.Length())
	assert.Equal(t, op, decoded)

	empty, err := alg.DecodeOperation([]byte(`[{"kind":"insert","embed":{}}]`))
	require.NoError(t, err)
	assert.ErrorIs(t, alg.Validate(empty), delta.ErrInvalidOp)
}
