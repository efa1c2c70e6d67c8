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
	"fmt"

	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/dataio"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/freespace"
)

// Operation is the kind of access performed on a trie.
type Operation int

const (
	Put Operation = iota + 1
	Get
	Delete
)

func (o Operation) String() string {
	switch o {
	case Put:
		return "put"
	case Get:
		return "get"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("operation(%d)", int(o))
	}
}

// rootLocation is the fixed position of the root anchor, the first node of
// the data region. Its chunk is never matched; all keys are reached through
// its next chain.
var rootLocation = dataio.BlockOffset{BlockNum: 0, Index: dataio.DataBeginIndex}

// trie implements the key/value operations on a radix trie stored in a data
// region. Modifications are written into the data region immediately but
// only become durable once the underlying store is synced.
type trie struct {
	io         *dataio.DataNodeIO
	free       *freespace.Collector
	maxKeySize int
	maxDepth   int
}

func newTrie(io *dataio.DataNodeIO, free *freespace.Collector, config Config) *trie {
	return &trie{
		io:         io,
		free:       free,
		maxKeySize: config.MaxKeySize,
		maxDepth:   config.traversalDepth(),
	}
}

// initRoot creates the root anchor. On a trie without entries it may be
// called repeatedly, always producing the same anchor.
func (t *trie) initRoot() error {
	if t.io.UsedBytes() == 0 {
		offset, _, err := t.io.OffsetForAppend(NodeSize)
		if err != nil {
			return err
		}
		if offset != rootLocation {
			return fmt.Errorf("%w: root anchor allocated at %v", ErrSpaceMismatch, offset)
		}
	} else {
		root, err := t.readNode(rootLocation)
		if err != nil {
			return err
		}
		if !root.next.IsEmpty() {
			return ErrTrieNotEmpty
		}
	}
	return t.writeNode(&node{location: rootLocation, modified: true})
}

type relation byte

const (
	viaNext relation = iota
	viaChild
)

// frame is an element of the path from the root to the node an operation
// is applied on. Each node on the path is represented exactly once.
type frame struct {
	node *node
	via  relation // how the node was reached from its predecessor
}

// operate performs the given operation on the trie. For Get it returns the
// value associated to the key; for all operations the boolean result
// indicates whether the key was present before the operation.
func (t *trie) operate(op Operation, key, val []byte) ([]byte, bool, error) {
	if op != Put && op != Get && op != Delete {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidOperation, op)
	}
	if len(key) > t.maxKeySize {
		return nil, false, fmt.Errorf("%w: %d > %d bytes", ErrKeyTooLong, len(key), t.maxKeySize)
	}

	root, err := t.readLiveNode(rootLocation)
	if err != nil {
		return nil, false, err
	}
	path := []frame{{node: root}}

	var result []byte
	found := false
	location, via, depth := root.next, viaNext, 0
descent:
	for {
		var cur *node
		if location.IsEmpty() {
			if op != Put {
				break
			}
			cur = newNode(key, depth)
		} else {
			cur, err = t.readLiveNode(location)
			if err != nil {
				return nil, false, err
			}
		}
		if len(path) > t.maxDepth {
			return nil, false, fmt.Errorf("%w: limit of %d nodes", ErrTraversalTooDeep, t.maxDepth)
		}
		path = append(path, frame{node: cur, via: via})

		for {
			spl := cur.sharedPrefixLength(key[depth:])
			switch {
			case spl == 0 && (depth < len(key) || !cur.isEndOfString()):
				location, via = cur.next, viaNext
				continue descent
			case spl == 0:
				result, found, err = t.apply(op, cur, val)
				if err != nil {
					return nil, false, err
				}
				break descent
			case spl == cur.size:
				if cur.child.kind == valueChild {
					return nil, false, fmt.Errorf("%w: value below non-terminal %v", ErrCorruptNode, cur)
				}
				location, via = cur.child.offset, viaChild
				depth += cur.size
				continue descent
			case op == Put:
				if err := t.split(cur, spl); err != nil {
					return nil, false, err
				}
			default:
				break descent
			}
		}
	}

	if err := t.unwind(op, path); err != nil {
		return nil, false, err
	}
	return result, found, nil
}

// apply performs the operation on the end-of-string node of the key.
func (t *trie) apply(op Operation, cur *node, val []byte) ([]byte, bool, error) {
	if cur.child.kind == subtreeChild {
		return nil, false, fmt.Errorf("%w: subtree below terminal %v", ErrCorruptNode, cur)
	}
	exists := cur.child.kind == valueChild
	switch op {
	case Put:
		return nil, exists, t.writeValue(cur, val)
	case Get:
		if !exists {
			return nil, false, nil
		}
		res, err := t.readValue(cur.child.offset)
		return res, err == nil, err
	case Delete:
		if !exists {
			return nil, false, nil
		}
		return nil, true, t.deleteValue(cur)
	}
	return nil, false, fmt.Errorf("%w: %v", ErrInvalidOperation, op)
}

// unwind writes back the nodes on the path in reverse order and updates the
// references of each predecessor to the possibly new location of its
// successor. On Delete, nodes without a child are removed on the way.
func (t *trie) unwind(op Operation, path []frame) error {
	for i := len(path) - 1; i > 0; i-- {
		cur := path[i].node
		if op == Delete {
			if err := t.deleteIfChildless(cur); err != nil {
				return err
			}
		}
		if cur.modified {
			if err := t.writeNode(cur); err != nil {
				return err
			}
		}
		parent := path[i-1].node
		switch path[i].via {
		case viaNext:
			if parent.next != cur.location {
				parent.next = cur.location
				parent.modified = true
			}
		case viaChild:
			if parent.child.offset != cur.location {
				parent.child = subtreeRef(cur.location)
				parent.modified = true
			}
		}
	}
	if root := path[0].node; root.modified {
		return t.writeNode(root)
	}
	return nil
}

// split shortens the node to its first spl key bytes. The remaining bytes
// are moved into a new node inheriting the original child.
func (t *trie) split(cur *node, spl int) error {
	if spl <= 0 || spl >= cur.size {
		return fmt.Errorf("%w: can not split chunk of %d bytes at %d", ErrCorruptNode, cur.size, spl)
	}
	suffix := &node{child: cur.child, modified: true}
	suffix.size = copy(suffix.chunk[:], cur.chunk[spl:cur.size])
	if err := t.writeNode(suffix); err != nil {
		return err
	}
	clear(cur.chunk[spl:])
	cur.size = spl
	cur.child = subtreeRef(suffix.location)
	cur.modified = true
	return nil
}

// deleteIfChildless removes a node without child. The node is marked as
// deleted in place and its location becomes its former next reference,
// such that the predecessor links to the successor.
func (t *trie) deleteIfChildless(cur *node) error {
	if !cur.child.IsEmpty() {
		return nil
	}
	if err := t.free.Collect(cur.location, NodeSize); err != nil {
		return fmt.Errorf("failed to release node at %v: %w", cur.location, err)
	}
	cur.deleted = true
	cur.modified = true
	if err := t.writeNode(cur); err != nil {
		return err
	}
	cur.location = cur.next
	return nil
}

// allocate reserves size bytes, preferring released space over appending.
func (t *trie) allocate(size uint64) (dataio.BlockOffset, error) {
	if offset, found := t.free.Allocate(size); found {
		return offset, nil
	}
	offset, slack, err := t.io.OffsetForAppend(size)
	if err != nil {
		return dataio.EmptyOffset, err
	}
	if slack.Size > 0 {
		if err := t.free.Collect(slack.Offset, slack.Size); err != nil {
			return dataio.EmptyOffset, err
		}
	}
	return offset, nil
}

// writeNode stores the node at its location. Nodes without location are
// assigned one first.
func (t *trie) writeNode(n *node) error {
	if n.location.IsEmpty() {
		offset, err := t.allocate(NodeSize)
		if err != nil {
			return err
		}
		n.location = offset
	}
	var buffer [NodeSize]byte
	n.encode(buffer[:])
	if err := t.io.WriteRange(buffer[:], n.location); err != nil {
		return err
	}
	n.modified = false
	return nil
}

func (t *trie) readNode(location dataio.BlockOffset) (*node, error) {
	data, err := t.io.ReadRange(location, NodeSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read node at %v: %w", location, err)
	}
	return decodeNode(data, location)
}

// readLiveNode reads a node referenced by a live node.
func (t *trie) readLiveNode(location dataio.BlockOffset) (*node, error) {
	res, err := t.readNode(location)
	if err != nil {
		return nil, err
	}
	if res.deleted {
		return nil, fmt.Errorf("%w: reference to deleted node at %v", ErrCorruptNode, location)
	}
	return res, nil
}

// writeValue stores a new value record for the given terminal node. An
// existing record is released first.
func (t *trie) writeValue(cur *node, val []byte) error {
	if cur.child.kind == valueChild {
		if err := t.deleteValue(cur); err != nil {
			return err
		}
	}
	record := encodeValueRecord(val)
	size := ValueRecordSize(len(val))
	if uint64(len(record)) != size {
		return fmt.Errorf("%w: encoded %d bytes for a record of %d bytes", ErrSpaceMismatch, len(record), size)
	}
	offset, err := t.allocate(size)
	if err != nil {
		return err
	}
	if err := t.io.WriteRange(record, offset); err != nil {
		return err
	}
	cur.child = valueRef(offset)
	cur.modified = true
	return nil
}

func (t *trie) readValueInfo(location dataio.BlockOffset) (valueInfo, []byte, error) {
	header, err := t.io.ReadRange(location, valueInfoSize)
	if err != nil {
		return valueInfo{}, nil, fmt.Errorf("%w: failed to read value at %v: %w", ErrCorruptValue, location, err)
	}
	info, err := decodeValueInfo(header, location)
	if err != nil {
		return valueInfo{}, nil, err
	}
	if info.deleted {
		return valueInfo{}, nil, fmt.Errorf("%w: reference to deleted value at %v", ErrCorruptValue, location)
	}
	return info, header, nil
}

func (t *trie) readValue(location dataio.BlockOffset) ([]byte, error) {
	info, _, err := t.readValueInfo(location)
	if err != nil {
		return nil, err
	}
	res, err := t.io.ReadRange(t.io.Advance(location, valueInfoSize), info.length)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %d bytes of value at %v: %w", ErrCorruptValue, info.length, location, err)
	}
	return res, nil
}

// deleteValue marks the value record of the node as deleted and releases it.
func (t *trie) deleteValue(cur *node) error {
	location := cur.child.offset
	info, header, err := t.readValueInfo(location)
	if err != nil {
		return err
	}
	header[0] |= flagIsDeleted
	if err := t.io.WriteRange(header[:valueHeaderSize], location); err != nil {
		return err
	}
	if err := t.free.Collect(location, valueInfoSize+info.length); err != nil {
		return fmt.Errorf("failed to release value at %v: %w", location, err)
	}
	cur.child = childRef{}
	cur.modified = true
	return nil
}
