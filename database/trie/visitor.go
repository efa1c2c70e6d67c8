// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package trie

import (
	"bytes"
	"fmt"

	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/dataio"
)

// walkEntry is a pending element of an iterative walk through the trie.
type walkEntry struct {
	location dataio.BlockOffset
	prefix   []byte // the key bytes covered by the predecessors
	depth    int    // the number of nodes on the path, excluding the root
}

// walk visits all nodes reachable from the root anchor, each together with
// the key prefix leading to it. A node's subtree is visited before its next
// siblings.
func (t *trie) walk(visit func(n *node, prefix []byte, depth int) error) error {
	root, err := t.readLiveNode(rootLocation)
	if err != nil {
		return err
	}
	var stack []walkEntry
	if !root.next.IsEmpty() {
		stack = append(stack, walkEntry{location: root.next, depth: 1})
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.depth > t.maxDepth {
			return fmt.Errorf("%w: limit of %d nodes", ErrTraversalTooDeep, t.maxDepth)
		}
		n, err := t.readLiveNode(cur.location)
		if err != nil {
			return err
		}
		if err := visit(n, cur.prefix, cur.depth); err != nil {
			return err
		}
		if !n.next.IsEmpty() {
			stack = append(stack, walkEntry{location: n.next, prefix: cur.prefix, depth: cur.depth + 1})
		}
		if n.child.kind == subtreeChild {
			prefix := append(bytes.Clone(cur.prefix), n.keyChunk()...)
			stack = append(stack, walkEntry{location: n.child.offset, prefix: prefix, depth: cur.depth + 1})
		}
	}
	return nil
}

// visitEntries calls the given function for every key/value pair.
func (t *trie) visitEntries(visit func(key, value []byte) error) error {
	return t.walk(func(n *node, prefix []byte, _ int) error {
		if !n.isEndOfString() || n.child.kind != valueChild {
			return nil
		}
		val, err := t.readValue(n.child.offset)
		if err != nil {
			return err
		}
		return visit(bytes.Clone(prefix), val)
	})
}

// Visit calls the given function for every key/value pair in the state,
// including uncommitted modifications. Entries are visited in trie order,
// which depends on the insertion history. Visiting stops at the first error
// returned by the callback.
func (s *State) Visit(visit func(key, value []byte) error) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.trie.visitEntries(visit)
}
