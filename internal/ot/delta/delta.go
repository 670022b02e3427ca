package delta

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"unicode/utf8"
)

type Kind string

const (
	KindRetain Kind = "retain"
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

// Op is one component of a delta. Inserts carry either Text or Embed.
// Retain/delete use Count. Lengths are measured in runes, an embed counts as one.
type Op struct {
	Kind  Kind           `json:"kind"`            // "retain" / "insert" / "delete"
	Count int            `json:"count,omitempty"` // retain/delete length
	Text  string         `json:"text,omitempty"`  // inserted text
	Embed map[string]any `json:"embed,omitempty"` // inserted object (image, mention, formula...)
	Attrs map[string]any `json:"attrs,omitempty"` // formatting; a nil value removes the attribute
}

// Delta is a sequence of ops. A document is a delta made only of inserts.
type Delta []Op

var ErrInvalidOp = errors.New("invalid delta op")

// Length returns how many items the op covers.
func (op Op) Length() int {
	switch op.Kind {
	case KindInsert:
		if op.Embed != nil {
			return 1
		}
		return utf8.RuneCountInString(op.Text)
	default:
		return op.Count
	}
}

func (op Op) isEmpty() bool {
	if op.Kind == KindInsert {
		return op.Embed == nil && op.Text == ""
	}
	return op.Count <= 0
}

func (op Op) String() string {
	switch op.Kind {
	case KindInsert:
		if op.Embed != nil {
			return fmt.Sprintf("insert(%v)", op.Embed)
		}
		return fmt.Sprintf("insert(%q)", op.Text)
	default:
		return fmt.Sprintf("%s(%d)", op.Kind, op.Count)
	}
}

// Insert appends a text insert.
func (d Delta) Insert(text string, attrs map[string]any) Delta {
	return d.Push(Op{Kind: KindInsert, Text: text, Attrs: attrs})
}

// InsertEmbed appends an embedded object insert.
func (d Delta) InsertEmbed(embed map[string]any, attrs map[string]any) Delta {
	return d.Push(Op{Kind: KindInsert, Embed: embed, Attrs: attrs})
}

func (d Delta) Retain(n int, attrs map[string]any) Delta {
	return d.Push(Op{Kind: KindRetain, Count: n, Attrs: attrs})
}

func (d Delta) Delete(n int) Delta {
	return d.Push(Op{Kind: KindDelete, Count: n})
}

// Push appends op, merging it into the tail when possible. Inserts are kept
// in front of an adjacent delete so equal deltas have one representation.
func (d Delta) Push(op Op) Delta {
	if op.isEmpty() {
		return d
	}
	if len(op.Attrs) == 0 {
		op.Attrs = nil
	}
	n := len(d)
	if n == 0 {
		return append(d, op)
	}
	last := d[n-1]
	if op.Kind == KindDelete && last.Kind == KindDelete {
		d[n-1].Count += op.Count
		return d
	}
	if last.Kind == KindDelete && op.Kind == KindInsert {
		if n >= 2 {
			if merged, ok := merge(d[n-2], op); ok {
				d[n-2] = merged
				return d
			}
		}
		d = append(d, Op{})
		copy(d[n:], d[n-1:n])
		d[n-1] = op
		return d
	}
	if merged, ok := merge(last, op); ok {
		d[n-1] = merged
		return d
	}
	return append(d, op)
}

func merge(a, b Op) (Op, bool) {
	if a.Kind != b.Kind || !reflect.DeepEqual(a.Attrs, b.Attrs) {
		return a, false
	}
	switch a.Kind {
	case KindInsert:
		if a.Embed != nil || b.Embed != nil {
			return a, false
		}
		a.Text += b.Text
		return a, true
	case KindRetain:
		a.Count += b.Count
		return a, true
	}
	return a, false
}

// Chop drops a trailing retain without attributes.
func (d Delta) Chop() Delta {
	if n := len(d); n > 0 && d[n-1].Kind == KindRetain && d[n-1].Attrs == nil {
		return d[:n-1]
	}
	return d
}

// Length is the total length of all ops.
func (d Delta) Length() int {
	total := 0
	for _, op := range d {
		total += op.Length()
	}
	return total
}

// BaseLength is the length of the document the delta expects to be applied to.
func (d Delta) BaseLength() int {
	total := 0
	for _, op := range d {
		if op.Kind != KindInsert {
			total += op.Count
		}
	}
	return total
}

// IsDocument reports whether d consists only of inserts.
func (d Delta) IsDocument() bool {
	for _, op := range d {
		if op.Kind != KindInsert {
			return false
		}
	}
	return true
}

// PlainText concatenates the text inserts of a document, skipping embeds.
func (d Delta) PlainText() string {
	var b strings.Builder
	for _, op := range d {
		if op.Kind == KindInsert && op.Embed == nil {
			b.WriteString(op.Text)
		}
	}
	return b.String()
}

// Validate checks the shape of every op.
func (d Delta) Validate() error {
	for i, op := range d {
		switch op.Kind {
		case KindInsert:
			if op.Embed != nil && op.Text != "" {
				return fmt.Errorf("%w: op %d inserts both text and embed", ErrInvalidOp, i)
			}
			if op.Embed == nil && op.Text == "" {
				return fmt.Errorf("%w: op %d inserts nothing", ErrInvalidOp, i)
			}
			if op.Embed != nil && len(op.Embed) == 0 {
				return fmt.Errorf("%w: op %d inserts an empty embed", ErrInvalidOp, i)
			}
			if op.Count != 0 {
				return fmt.Errorf("%w: op %d insert carries a count", ErrInvalidOp, i)
			}
		case KindRetain, KindDelete:
			if op.Count <= 0 {
				return fmt.Errorf("%w: op %d has non-positive count %d", ErrInvalidOp, i, op.Count)
			}
			if op.Text != "" || op.Embed != nil {
				return fmt.Errorf("%w: op %d %s carries content", ErrInvalidOp, i, op.Kind)
			}
			if op.Kind == KindDelete && op.Attrs != nil {
				return fmt.Errorf("%w: op %d delete carries attributes", ErrInvalidOp, i)
			}
		default:
			return fmt.Errorf("%w: op %d has unknown kind %q", ErrInvalidOp, i, op.Kind)
		}
	}
	return nil
}

// Apply applies op to doc and returns the new document.
func Apply(doc, op Delta) (Delta, error) {
	if !doc.IsDocument() {
		return nil, errors.New("document contains non-insert ops")
	}
	if base, length := op.BaseLength(), doc.Length(); base > length {
		return nil, fmt.Errorf("operation spans %d items but document has %d", base, length)
	}
	return Compose(doc, op), nil
}

// Replay applies op to doc without ever failing. Retains and deletes that
// reach past the end of doc are dropped; the second result counts the
// dropped items. doc must be a document.
func Replay(doc, op Delta) (Delta, int) {
	out := Delta{}
	dropped := 0
	for _, c := range Compose(doc, op) {
		if c.Kind != KindInsert {
			dropped += c.Count
			continue
		}
		out = out.Push(c)
	}
	return out, dropped
}

// Compose returns a delta equivalent to applying a then b.
func Compose(a, b Delta) Delta {
	ai, bi := newIterator(a), newIterator(b)
	out := Delta{}
	for ai.hasNext() || bi.hasNext() {
		if bi.peekKind() == KindInsert {
			out = out.Push(bi.next(math.MaxInt))
			continue
		}
		if ai.peekKind() == KindDelete {
			out = out.Push(ai.next(math.MaxInt))
			continue
		}
		length := min(ai.peekLength(), bi.peekLength())
		aOp, bOp := ai.next(length), bi.next(length)
		switch {
		case bOp.Kind == KindRetain:
			next := Op{Kind: KindRetain, Count: length}
			if aOp.Kind == KindInsert {
				next = Op{Kind: KindInsert, Text: aOp.Text, Embed: aOp.Embed}
			}
			next.Attrs = composeAttrs(aOp.Attrs, bOp.Attrs, aOp.Kind == KindRetain)
			out = out.Push(next)
		case bOp.Kind == KindDelete && aOp.Kind == KindRetain:
			out = out.Push(bOp)
		}
		// insert followed by delete cancels out
	}
	return out.Chop()
}

// Transform rewrites op so it applies after against. When both insert at the
// same position, againstFirst decides whose insert ends up first.
func Transform(op, against Delta, againstFirst bool) Delta {
	ai, bi := newIterator(against), newIterator(op)
	out := Delta{}
	for ai.hasNext() || bi.hasNext() {
		if ai.peekKind() == KindInsert && (againstFirst || bi.peekKind() != KindInsert) {
			out = out.Retain(ai.next(math.MaxInt).Length(), nil)
			continue
		}
		if bi.peekKind() == KindInsert {
			out = out.Push(bi.next(math.MaxInt))
			continue
		}
		length := min(ai.peekLength(), bi.peekLength())
		aOp, bOp := ai.next(length), bi.next(length)
		switch {
		case aOp.Kind == KindDelete:
			// already gone
		case bOp.Kind == KindDelete:
			out = out.Push(bOp)
		default:
			out = out.Retain(length, transformAttrs(aOp.Attrs, bOp.Attrs, againstFirst))
		}
	}
	return out.Chop()
}

func composeAttrs(a, b map[string]any, keepNull bool) map[string]any {
	out := map[string]any{}
	for k, v := range b {
		if v == nil && !keepNull {
			continue
		}
		out[k] = v
	}
	for k, v := range a {
		if _, ok := b[k]; !ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func transformAttrs(a, b map[string]any, aFirst bool) map[string]any {
	if a == nil || !aFirst {
		return b
	}
	out := map[string]any{}
	for k, v := range b {
		if _, ok := a[k]; !ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

type iterator struct {
	ops    Delta
	index  int
	offset int
}

func newIterator(ops Delta) *iterator {
	return &iterator{ops: ops}
}

func (it *iterator) hasNext() bool {
	return it.peekLength() < math.MaxInt
}

func (it *iterator) peekLength() int {
	if it.index < len(it.ops) {
		return it.ops[it.index].Length() - it.offset
	}
	return math.MaxInt
}

func (it *iterator) peekKind() Kind {
	if it.index < len(it.ops) {
		return it.ops[it.index].Kind
	}
	return KindRetain
}

func (it *iterator) next(length int) Op {
	if it.index >= len(it.ops) {
		return Op{Kind: KindRetain, Count: math.MaxInt}
	}
	op := it.ops[it.index]
	offset := it.offset
	remaining := op.Length() - offset
	if length >= remaining {
		length = remaining
		it.index++
		it.offset = 0
	} else {
		it.offset += length
	}
	switch op.Kind {
	case KindDelete:
		return Op{Kind: KindDelete, Count: length}
	case KindRetain:
		return Op{Kind: KindRetain, Count: length, Attrs: op.Attrs}
	}
	if op.Embed != nil {
		return Op{Kind: KindInsert, Embed: op.Embed, Attrs: op.Attrs}
	}
	runes := []rune(op.Text)
	return Op{Kind: KindInsert, Text: string(runes[offset : offset+length]), Attrs: op.Attrs}
}
