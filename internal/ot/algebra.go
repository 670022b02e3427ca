// Package ot binds the rich-text and tree operation algebras to one generic
// contract so the revision engine can be written once for both.
package ot

import (
	"encoding/json"
	"fmt"

	"collab-revisions/internal/ot/delta"
	"collab-revisions/internal/ot/tree"
)

// Priority decides which side wins when two operations touch the same slot.
type Priority int

const (
	// IncomingYields lets the already committed operation win ties.
	IncomingYields Priority = iota
	// IncomingWins lets the operation being transformed win ties.
	IncomingWins
)

// Algebra is the set of primitives the revision engine needs from a variant.
type Algebra[Op any, State any] interface {
	Kind() string
	Empty() State
	EmptyOperation() Op
	Validate(op Op) error
	Apply(state State, op Op) (State, error)
	// Replay is Apply that never fails: whatever part of op does not fit
	// state is dropped and counted. Reconstruction folds with it.
	Replay(state State, op Op) (State, int)
	Compose(a, b Op) Op
	// Transform rewrites op so it applies after against.
	Transform(op, against Op, priority Priority) Op

	DecodeOperation(data []byte) (Op, error)
	EncodeOperation(op Op) ([]byte, error)
	DecodeState(data []byte) (State, error)
	EncodeState(state State) ([]byte, error)
}

// Text is the algebra of rich-text documents.
type Text struct{}

var _ Algebra[delta.Delta, delta.Delta] = Text{}

func (Text) Kind() string { return "text" }
func (Text) Empty() delta.Delta { return delta.Delta{} }
func (Text) EmptyOperation() delta.Delta { return delta.Delta{} }
func (Text) Validate(op delta.Delta) error { return op.Validate() }

func (Text) Apply(state, op delta.Delta) (delta.Delta, error) {
	return delta.Apply(state, op)
}

func (Text) Replay(state, op delta.Delta) (delta.Delta, int) {
	return delta.Replay(state, op)
}

func (Text) Compose(a, b delta.Delta) delta.Delta {
	return delta.Compose(a, b)
}

func (Text) Transform(op, against delta.Delta, priority Priority) delta.Delta {
	return delta.Transform(op, against, priority == IncomingYields)
}

func (Text) DecodeOperation(data []byte) (delta.Delta, error) {
	return decodeDelta(data)
}

func (Text) EncodeOperation(op delta.Delta) ([]byte, error) {
	return json.Marshal(nonNilDelta(op))
}

func (Text) DecodeState(data []byte) (delta.Delta, error) {
	d, err := decodeDelta(data)
	if err != nil {
		return nil, err
	}
	if !d.IsDocument() {
		return nil, fmt.Errorf("%w: stored state contains non-insert ops", delta.ErrInvalidOp)
	}
	return d, nil
}

func (Text) EncodeState(state delta.Delta) ([]byte, error) {
	return json.Marshal(nonNilDelta(state))
}

func decodeDelta(data []byte) (delta.Delta, error) {
	var d delta.Delta
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return nonNilDelta(d), nil
}

func nonNilDelta(d delta.Delta) delta.Delta {
	if d == nil {
		return delta.Delta{}
	}
	return d
}

// Tree is the algebra of structured panes. States are generic JSON values
// rooted at an object.
type Tree struct{}

var _ Algebra[tree.Op, any] = Tree{}

func (Tree) Kind() string { return "tree" }
func (Tree) Empty() any { return map[string]any{} }
func (Tree) EmptyOperation() tree.Op { return tree.Op{} }
func (Tree) Validate(op tree.Op) error {
	return op.Validate()
}

func (Tree) Apply(state any, op tree.Op) (any, error) {
	return tree.Apply(state, op)
}

func (Tree) Replay(state any, op tree.Op) (any, int) {
	return tree.Replay(state, op)
}

func (Tree) Compose(a, b tree.Op) tree.Op {
	return tree.Compose(a, b)
}

// Transform puts against on the left under IncomingYields, so it wins ties.
func (Tree) Transform(op, against tree.Op, priority Priority) tree.Op {
	return tree.Transform(op, against, priority == IncomingWins)
}

func (Tree) DecodeOperation(data []byte) (tree.Op, error) {
	var op tree.Op
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, err
	}
	if op == nil {
		op = tree.Op{}
	}
	return op, nil
}

func (Tree) EncodeOperation(op tree.Op) ([]byte, error) {
	if op == nil {
		op = tree.Op{}
	}
	return json.Marshal(op)
}

func (Tree) DecodeState(data []byte) (any, error) {
	var state any
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state == nil {
		return map[string]any{}, nil
	}
	return state, nil
}

func (Tree) EncodeState(state any) ([]byte, error) {
	return json.Marshal(state)
}
