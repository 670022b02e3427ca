package tree

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"collab-revisions/internal/ot/delta"
)

type EditKind string

const (
	ListInsert    EditKind = "list-insert"
	ListDelete    EditKind = "list-delete"
	ListReplace   EditKind = "list-replace"
	ListMove      EditKind = "list-move"
	ObjectInsert  EditKind = "object-insert"
	ObjectDelete  EditKind = "object-delete"
	ObjectReplace EditKind = "object-replace"
	TextEdit      EditKind = "text"
)

var ErrInvalidComponent = errors.New("invalid tree component")

// Path addresses a value inside the tree. Elements are object keys (string)
// or list indices (int).
type Path []any

func (p *Path) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Path, len(raw))
	for i, el := range raw {
		switch v := el.(type) {
		case string:
			out[i] = v
		case float64:
			if v != math.Trunc(v) || v < 0 {
				return fmt.Errorf("path element %d: %v is not a list index", i, v)
			}
			out[i] = int(v)
		default:
			return fmt.Errorf("path element %d: unsupported type %T", i, el)
		}
	}
	*p = out
	return nil
}

func (p Path) clone() Path {
	return append(Path(nil), p...)
}

func (p Path) at(i int) any {
	if i < 0 || i >= len(p) {
		return nil
	}
	return p[i]
}

func (p Path) index(i int) (int, bool) {
	v, ok := p.at(i).(int)
	return v, ok
}

// Component edits the value at Path.
//
// List and object edits address the slot inside the parent container, so the
// last path element is the index or key. Text edits address the leaf itself
// and carry a rich-text delta.
type Component struct {
	Path  Path        `json:"path"`
	Kind  EditKind    `json:"kind"`
	Value any         `json:"value,omitempty"` // inserted value
	Old   any         `json:"old,omitempty"`   // removed value
	To    int         `json:"to,omitempty"`    // move destination
	Text  delta.Delta `json:"text,omitempty"`  // text sub-operation
}

// Op is a sequence of components applied in order.
type Op []Component

func (c Component) li() bool { return c.Kind == ListInsert || c.Kind == ListReplace }
func (c Component) ld() bool { return c.Kind == ListDelete || c.Kind == ListReplace }
func (c Component) lm() bool { return c.Kind == ListMove }
func (c Component) oi() bool { return c.Kind == ObjectInsert || c.Kind == ObjectReplace }
func (c Component) od() bool { return c.Kind == ObjectDelete || c.Kind == ObjectReplace }
func (c Component) t() bool  { return c.Kind == TextEdit }

func (c Component) clone() Component {
	c.Path = c.Path.clone()
	c.Value = cloneValue(c.Value)
	c.Old = cloneValue(c.Old)
	c.Text = append(delta.Delta(nil), c.Text...)
	return c
}

// Validate checks every component's path and payload.
func (op Op) Validate() error {
	for i, c := range op {
		if err := c.validate(); err != nil {
			return fmt.Errorf("component %d: %w", i, err)
		}
	}
	return nil
}

func (c Component) validate() error {
	if len(c.Path) == 0 {
		return fmt.Errorf("%w: empty path", ErrInvalidComponent)
	}
	for _, el := range c.Path {
		switch v := el.(type) {
		case string:
		case int:
			if v < 0 {
				return fmt.Errorf("%w: negative index %d", ErrInvalidComponent, v)
			}
		default:
			return fmt.Errorf("%w: path element of type %T", ErrInvalidComponent, el)
		}
	}
	last := c.Path[len(c.Path)-1]
	switch c.Kind {
	case ListInsert, ListDelete, ListReplace:
		if _, ok := last.(int); !ok {
			return fmt.Errorf("%w: %s needs a list index, got %v", ErrInvalidComponent, c.Kind, last)
		}
	case ListMove:
		if _, ok := last.(int); !ok {
			return fmt.Errorf("%w: %s needs a list index, got %v", ErrInvalidComponent, c.Kind, last)
		}
		if c.To < 0 {
			return fmt.Errorf("%w: move destination %d", ErrInvalidComponent, c.To)
		}
	case ObjectInsert, ObjectDelete, ObjectReplace:
		if _, ok := last.(string); !ok {
			return fmt.Errorf("%w: %s needs an object key, got %v", ErrInvalidComponent, c.Kind, last)
		}
	case TextEdit:
		if err := c.Text.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidComponent, c.Kind)
	}
	return nil
}

// Apply returns the tree produced by applying op. The input is not modified.
func Apply(root any, op Op) (any, error) {
	out := cloneValue(root)
	for i, c := range op {
		var err error
		if out, err = applyComponent(out, c.Path, c, delta.Apply); err != nil {
			return nil, fmt.Errorf("component %d at %v: %w", i, c.Path, err)
		}
	}
	return out, nil
}

// Replay applies every component that fits the tree and skips the rest, so
// it never fails. Text edits are replayed leniently with delta.Replay. The
// second result counts the skipped components.
func Replay(root any, op Op) (any, int) {
	out := cloneValue(root)
	skipped := 0
	for _, c := range op {
		next, err := applyComponent(cloneValue(out), c.Path, c, replayText)
		if err != nil {
			skipped++
			continue
		}
		out = next
	}
	return out, skipped
}

func replayText(doc, op delta.Delta) (delta.Delta, error) {
	out, _ := delta.Replay(doc, op)
	return out, nil
}

type textApplier func(doc, op delta.Delta) (delta.Delta, error)

// Compose returns an op equivalent to a followed by b.
func Compose(a, b Op) Op {
	out := make(Op, 0, len(a)+len(b))
	for _, c := range a {
		out = appendComponent(out, c.clone())
	}
	for _, c := range b {
		out = appendComponent(out, c.clone())
	}
	return out
}

// appendComponent merges consecutive text edits on the same leaf.
func appendComponent(dest Op, c Component) Op {
	if n := len(dest); n > 0 && c.t() && dest[n-1].t() && pathEqual(dest[n-1].Path, c.Path) {
		dest[n-1].Text = delta.Compose(dest[n-1].Text, c.Text)
		if len(dest[n-1].Text) == 0 {
			return dest[:n-1]
		}
		return dest
	}
	return append(dest, c)
}

func applyComponent(node any, path Path, c Component, text textApplier) (any, error) {
	if c.t() && len(path) == 0 {
		return applyText(node, c.Text, text)
	}
	if !c.t() && len(path) == 1 {
		return applyEdit(node, path[0], c)
	}
	switch container := node.(type) {
	case map[string]any:
		key, ok := path[0].(string)
		if !ok {
			return nil, fmt.Errorf("object step %v is not a key", path[0])
		}
		child, err := applyComponent(container[key], path[1:], c, text)
		if err != nil {
			return nil, err
		}
		container[key] = child
		return container, nil
	case []any:
		idx, ok := path[0].(int)
		if !ok || idx >= len(container) {
			return nil, fmt.Errorf("list step %v out of range (len %d)", path[0], len(container))
		}
		child, err := applyComponent(container[idx], path[1:], c, text)
		if err != nil {
			return nil, err
		}
		container[idx] = child
		return container, nil
	default:
		return nil, fmt.Errorf("cannot descend into %T", node)
	}
}

func applyEdit(node any, step any, c Component) (any, error) {
	if c.oi() || c.od() {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s on %T", c.Kind, node)
		}
		key := step.(string)
		if c.oi() {
			v, err := normalize(c.Value)
			if err != nil {
				return nil, err
			}
			obj[key] = v
		} else {
			delete(obj, key)
		}
		return obj, nil
	}

	list, ok := node.([]any)
	if !ok {
		return nil, fmt.Errorf("%s on %T", c.Kind, node)
	}
	idx := step.(int)
	switch c.Kind {
	case ListInsert:
		if idx > len(list) {
			return nil, fmt.Errorf("insert at %d beyond list of %d", idx, len(list))
		}
		v, err := normalize(c.Value)
		if err != nil {
			return nil, err
		}
		list = append(list, nil)
		copy(list[idx+1:], list[idx:])
		list[idx] = v
	case ListDelete:
		if idx >= len(list) {
			return nil, fmt.Errorf("delete at %d beyond list of %d", idx, len(list))
		}
		list = append(list[:idx], list[idx+1:]...)
	case ListReplace:
		if idx >= len(list) {
			return nil, fmt.Errorf("replace at %d beyond list of %d", idx, len(list))
		}
		v, err := normalize(c.Value)
		if err != nil {
			return nil, err
		}
		list[idx] = v
	case ListMove:
		if idx >= len(list) || c.To >= len(list) {
			return nil, fmt.Errorf("move %d -> %d in list of %d", idx, c.To, len(list))
		}
		v := list[idx]
		list = append(list[:idx], list[idx+1:]...)
		list = append(list, nil)
		copy(list[c.To+1:], list[c.To:])
		list[c.To] = v
	}
	return list, nil
}

func applyText(node any, op delta.Delta, text textApplier) (any, error) {
	current, err := LeafDelta(node)
	if err != nil {
		return nil, err
	}
	next, err := text(current, op)
	if err != nil {
		return nil, err
	}
	return normalize(next)
}

// LeafDelta reads a rich-text leaf. A missing leaf is empty, a plain string is
// treated as unformatted text.
func LeafDelta(node any) (delta.Delta, error) {
	switch v := node.(type) {
	case nil:
		return delta.Delta{}, nil
	case string:
		return delta.Delta{}.Insert(v, nil), nil
	case delta.Delta:
		return v, nil
	}
	data, err := json.Marshal(node)
	if err != nil {
		return nil, err
	}
	var d delta.Delta
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("leaf is not rich text: %w", err)
	}
	if !d.IsDocument() {
		return nil, errors.New("leaf is not rich text: contains non-insert ops")
	}
	return d, nil
}

// normalize converts v into the generic form produced by encoding/json, so
// trees built in memory and trees loaded from storage compare equal.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, el := range x {
			out[k] = cloneValue(el)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, el := range x {
			out[i] = cloneValue(el)
		}
		return out
	default:
		return v
	}
}

func pathEqual(a, b Path) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
