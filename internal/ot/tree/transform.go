package tree

import "collab-revisions/internal/ot/delta"

// Transform rewrites op so it applies after against. left reports whether op
// wins ties (both insert at the same slot, both move the same item, ...).
func Transform(op, against Op, left bool) Op {
	if left {
		out, _ := transformX(op, against)
		return out
	}
	_, out := transformX(against, op)
	return out
}

// transformX transforms leftOp and rightOp against each other, left winning ties.
func transformX(leftOp, rightOp Op) (Op, Op) {
	newRight := Op{}
	for _, rc := range rightOp {
		right := &rc
		newLeft := Op{}
		k := 0
		for k < len(leftOp) {
			var next Op
			newLeft = transformComponent(newLeft, leftOp[k], *right, true)
			next = transformComponent(next, *right, leftOp[k], false)
			k++
			if len(next) == 1 {
				c := next[0]
				right = &c
				continue
			}
			if len(next) == 0 {
				for _, c := range leftOp[k:] {
					newLeft = appendComponent(newLeft, c.clone())
				}
				right = nil
				break
			}
			l, r := transformX(leftOp[k:], next)
			for _, c := range l {
				newLeft = appendComponent(newLeft, c)
			}
			for _, c := range r {
				newRight = appendComponent(newRight, c)
			}
			right = nil
			break
		}
		if right != nil {
			newRight = appendComponent(newRight, *right)
		}
		leftOp = newLeft
	}
	return leftOp, newRight
}

// commonLength returns the index of the last element of a's parent path when
// that parent is a prefix of b's path.
func commonLength(a, b Component) (int, bool) {
	alen, blen := len(a.Path), len(b.Path)
	if a.t() {
		alen++
	}
	if b.t() {
		blen++
	}
	alen--
	blen--
	for i := 0; i < alen; i++ {
		if i >= blen || a.Path.at(i) != b.Path.at(i) {
			return 0, false
		}
	}
	return alen, true
}

// transformComponent appends to dest the version of c that applies after
// other has been applied.
func transformComponent(dest Op, c, other Component, left bool) Op {
	c = c.clone()
	common, ok := commonLength(other, c)
	common2, ok2 := commonLength(c, other)
	cLen, otherLen := len(c.Path), len(other.Path)
	if c.t() {
		cLen++
	}
	if other.t() {
		otherLen++
	}

	// other edits inside the value c removes: keep the removed value current
	if ok2 && otherLen > cLen && c.Path.at(common2) != nil && c.Path.at(common2) == other.Path.at(common2) {
		if c.ld() || c.od() {
			inner := other.clone()
			inner.Path = inner.Path[len(c.Path):]
			if old, err := applyComponent(cloneValue(c.Old), inner.Path, inner, delta.Apply); err == nil {
				c.Old = old
			}
		}
	}

	if !ok {
		return appendComponent(dest, c)
	}

	same := cLen == otherLen
	sameSlot := c.Path.at(common) != nil && c.Path.at(common) == other.Path.at(common)
	cIdx, cIsIdx := c.Path.index(common)
	otherIdx, _ := other.Path.index(common)

	switch {
	case other.t():
		if c.t() && pathEqual(c.Path, other.Path) {
			text := delta.Transform(c.Text, other.Text, !left)
			if len(text) == 0 {
				return dest
			}
			c.Text = text
			return appendComponent(dest, c)
		}

	case other.li() && other.ld():
		if sameSlot {
			if !same {
				return dest
			}
			if c.ld() {
				if c.li() && left {
					c.Old = cloneValue(other.Value)
				} else {
					return dest
				}
			}
		}

	case other.li():
		if !cIsIdx {
			break
		}
		if c.li() && !c.ld() && same && sameSlot {
			if !left {
				c.Path[common] = cIdx + 1
			}
		} else if otherIdx <= cIdx {
			c.Path[common] = cIdx + 1
		}
		if c.lm() && same && otherIdx <= c.To {
			c.To++
		}

	case other.ld():
		if !cIsIdx {
			break
		}
		if c.lm() && same {
			if sameSlot {
				return dest
			}
			from, to := cIdx, c.To
			if otherIdx < to || (otherIdx == to && from < to) {
				c.To--
			}
		}
		if otherIdx < cIdx {
			c.Path[common] = cIdx - 1
		} else if otherIdx == cIdx {
			if otherLen < cLen {
				return dest
			}
			if c.ld() {
				if !c.li() {
					return dest
				}
				c.Kind = ListInsert
				c.Old = nil
			}
		}

	case other.lm():
		if !cIsIdx {
			break
		}
		from, to := otherIdx, other.To
		switch {
		case c.lm() && same:
			if from == to {
				break
			}
			myFrom, myTo := cIdx, c.To
			if myFrom == from {
				if !left {
					return dest
				}
				c.Path[common] = to
				if myFrom == myTo {
					c.To = to
				}
				break
			}
			if myFrom > from {
				c.Path[common] = c.Path[common].(int) - 1
			}
			if myFrom > to {
				c.Path[common] = c.Path[common].(int) + 1
			} else if myFrom == to && from > to {
				c.Path[common] = c.Path[common].(int) + 1
				if myFrom == myTo {
					c.To++
				}
			}
			if myTo > from {
				c.To--
			} else if myTo == from && myTo > myFrom {
				c.To--
			}
			if myTo > to {
				c.To++
			} else if myTo == to {
				if (to > from && myTo > myFrom) || (to < from && myTo < myFrom) {
					if !left {
						c.To++
					}
				} else if myTo > myFrom {
					c.To++
				} else if myTo == from {
					c.To--
				}
			}
		case c.li() && !c.ld() && same:
			p := cIdx
			if p > from {
				c.Path[common] = c.Path[common].(int) - 1
			}
			if p > to {
				c.Path[common] = c.Path[common].(int) + 1
			}
		default:
			p := cIdx
			if p == from {
				c.Path[common] = to
				break
			}
			if p > from {
				c.Path[common] = c.Path[common].(int) - 1
			}
			if p > to || (p == to && from > to) {
				c.Path[common] = c.Path[common].(int) + 1
			}
		}

	case other.oi() && other.od():
		if sameSlot {
			if !c.oi() || !same || !left {
				return dest
			}
			c.Kind = ObjectReplace
			c.Old = cloneValue(other.Value)
		}

	case other.oi():
		if c.oi() && same && sameSlot {
			if !left {
				return dest
			}
			c.Kind = ObjectReplace
			c.Old = cloneValue(other.Value)
		}

	case other.od():
		if sameSlot {
			if !same || !c.oi() {
				return dest
			}
			c.Kind = ObjectInsert
			c.Old = nil
		}
	}

	return appendComponent(dest, c)
}
