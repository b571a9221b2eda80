package store

import "bytes"

// Cursor walks the leaf chain of a Tree in key order. It is the shared
// primitive behind every higher-level iterator (Extent, Qit, Mit, Xit,
// Idx): all of them are "seek to a prefix, then Next until the prefix
// stops matching". Seeks take the tree's read lock; Next/MovePrev then
// follow the leaf chain directly, relying on the store's single-writer
// discipline (every mutation rides a batched Store.Apply, never
// interleaved with an in-flight scan).
type Cursor struct {
	tree    *Tree
	leaf    *node
	idx     int
	valid   bool
}

// NewCursor returns a cursor positioned before the first entry; call
// MoveFirst, MoveLast or MoveTo to position it.
func NewCursor(t *Tree) *Cursor {
	return &Cursor{tree: t}
}

// MoveFirst positions the cursor at the smallest key in the tree.
func (c *Cursor) MoveFirst() bool {
	c.tree.mu.RLock()
	leaf, idx := c.tree.findLeafLowerBound(nil)
	c.tree.mu.RUnlock()
	c.leaf, c.idx = leaf, idx
	c.valid = idx < leaf.n
	return c.valid
}

// MoveLast positions the cursor at the largest key in the tree.
func (c *Cursor) MoveLast() bool {
	c.tree.mu.RLock()
	defer c.tree.mu.RUnlock()
	n := c.tree.root
	for !n.leaf {
		n = n.children[n.n]
	}
	c.leaf = n
	c.idx = n.n - 1
	c.valid = c.idx >= 0
	return c.valid
}

// MoveTo positions the cursor at the smallest key >= key. If partial is
// true, the cursor is also considered valid as long as the found key has
// key as a byte prefix (used for scoped prefix scans such as one OID's
// slots in OBJ, or one table's queue in QUE).
func (c *Cursor) MoveTo(key []byte, partial bool) bool {
	c.tree.mu.RLock()
	leaf, idx := c.tree.findLeafLowerBound(key)
	if idx >= leaf.n {
		// key is greater than everything in this leaf; the true lower
		// bound is the first entry of the next leaf, if any.
		leaf = leaf.next
		idx = 0
	}
	c.tree.mu.RUnlock()
	c.leaf, c.idx = leaf, idx
	if leaf == nil || idx >= leaf.n {
		c.valid = false
		return false
	}
	if partial {
		c.valid = bytes.HasPrefix(leaf.keys[idx], key)
	} else {
		c.valid = bytes.Equal(leaf.keys[idx], key)
	}
	return c.valid
}

// Valid reports whether the cursor currently sits on an entry.
func (c *Cursor) Valid() bool { return c.valid && c.leaf != nil && c.idx < c.leaf.n && c.idx >= 0 }

// Key returns the key at the cursor. Only valid when Valid() is true.
func (c *Cursor) Key() []byte { return c.leaf.keys[c.idx] }

// Value returns the value at the cursor. Only valid when Valid() is true.
func (c *Cursor) Value() []byte { return c.leaf.values[c.idx] }

// Next advances the cursor, following the leaf chain across leaf
// boundaries.
func (c *Cursor) Next() bool {
	if !c.Valid() {
		return false
	}
	c.idx++
	if c.idx >= c.leaf.n {
		next := c.leaf.next
		c.leaf = next
		c.idx = 0
		if next == nil {
			c.valid = false
			return false
		}
	}
	c.valid = c.idx < c.leaf.n
	return c.valid
}

// MovePrev steps the cursor to the entry immediately before its current
// position, following the leaf chain's backward pointer symmetrically
// to Next.
func (c *Cursor) MovePrev() bool {
	if c.leaf == nil {
		return false
	}
	c.idx--
	if c.idx < 0 {
		prev := c.leaf.prev
		c.leaf = prev
		if prev == nil {
			c.valid = false
			return false
		}
		c.idx = prev.n - 1
	}
	c.valid = c.leaf != nil && c.idx >= 0 && c.idx < c.leaf.n
	return c.valid
}

// NextWithPrefix advances and reports whether the new position still has
// prefix as a byte prefix of its key; used to bound prefix scans without
// re-seeking.
func (c *Cursor) NextWithPrefix(prefix []byte) bool {
	if !c.Next() {
		return false
	}
	if !bytes.HasPrefix(c.Key(), prefix) {
		c.valid = false
		return false
	}
	return true
}

// PrevWithPrefix is the backward analogue of NextWithPrefix.
func (c *Cursor) PrevWithPrefix(prefix []byte) bool {
	if !c.MovePrev() {
		return false
	}
	if !bytes.HasPrefix(c.Key(), prefix) {
		c.valid = false
		return false
	}
	return true
}

// Insert writes key/value directly through the cursor's tree, bypassing
// the batched Store.Apply path; used by callers that already hold the
// Store's write lock.
func (c *Cursor) Insert(key, value []byte) {
	c.tree.Upsert(key, value)
}

// RemoveAtCursor deletes the entry the cursor currently sits on.
func (c *Cursor) RemoveAtCursor() bool {
	if !c.Valid() {
		return false
	}
	key := c.Key()
	ok := c.tree.Delete(key)
	c.valid = false
	return ok
}
