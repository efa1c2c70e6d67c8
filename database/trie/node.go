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
	"encoding/binary"
	"fmt"

	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/dataio"
)

const (
	// MaxKeyChunkSize is the maximum number of key bytes held by a node.
	MaxKeyChunkSize = 15
	// NodeSize is the size of every encoded node.
	NodeSize = 2 + 2*dataio.BlockOffsetSize + MaxKeyChunkSize
	// valueHeaderSize is the size of the header of a value record, followed
	// by the length of the value.
	valueHeaderSize = 2
	valueInfoSize   = valueHeaderSize + 8
)

// Flags of the first header byte of nodes and value records.
const (
	flagHasNext      = 1 << 0
	flagHasChild     = 1 << 1
	flagIsValue      = 1 << 2
	flagIsDeleted    = 1 << 3
	flagChildIsValue = 1 << 4
)

// ValueRecordSize is the number of bytes occupied by a value of the given length.
func ValueRecordSize(length int) uint64 {
	return valueInfoSize + uint64(length)
}

type childKind byte

const (
	noChild childKind = iota
	subtreeChild
	valueChild
)

// childRef references either the subtree below a node or, for end-of-string
// nodes, the record of the value associated to the key.
type childRef struct {
	kind   childKind
	offset dataio.BlockOffset
}

func subtreeRef(offset dataio.BlockOffset) childRef {
	if offset.IsEmpty() {
		return childRef{}
	}
	return childRef{kind: subtreeChild, offset: offset}
}

func valueRef(offset dataio.BlockOffset) childRef {
	return childRef{kind: valueChild, offset: offset}
}

func (c childRef) IsEmpty() bool {
	return c.kind == noChild
}

func (c childRef) String() string {
	switch c.kind {
	case subtreeChild:
		return fmt.Sprintf("subtree@%v", c.offset)
	case valueChild:
		return fmt.Sprintf("value@%v", c.offset)
	default:
		return "-"
	}
}

// node is the in-memory representation of a trie node. A node without a
// location has not been stored yet.
type node struct {
	next     dataio.BlockOffset
	child    childRef
	chunk    [MaxKeyChunkSize]byte
	size     int // number of used bytes in chunk
	deleted  bool
	location dataio.BlockOffset
	modified bool
}

// newNode creates a node for the key bytes starting at the given depth,
// clipped to the maximum chunk size.
func newNode(key []byte, depth int) *node {
	res := &node{modified: true}
	res.size = copy(res.chunk[:], key[depth:])
	return res
}

func (n *node) keyChunk() []byte {
	return n.chunk[:n.size]
}

// isEndOfString is true for nodes with an empty chunk, which terminate keys.
func (n *node) isEndOfString() bool {
	return n.size == 0
}

// sharedPrefixLength computes the length of the common prefix of the node's
// chunk and the given key suffix.
func (n *node) sharedPrefixLength(key []byte) int {
	chunk := n.keyChunk()
	spl := 0
	for spl < len(chunk) && spl < len(key) && chunk[spl] == key[spl] {
		spl++
	}
	return spl
}

func (n *node) String() string {
	return fmt.Sprintf("node@%v{chunk: %x, next: %v, child: %v, deleted: %t}", n.location, n.keyChunk(), n.next, n.child, n.deleted)
}

func (n *node) encode(trg []byte) {
	var flags byte
	if !n.next.IsEmpty() {
		flags |= flagHasNext
	}
	if !n.child.IsEmpty() {
		flags |= flagHasChild
	}
	if n.child.kind == valueChild {
		flags |= flagChildIsValue
	}
	if n.deleted {
		flags |= flagIsDeleted
	}
	trg[0] = flags
	trg[1] = byte(n.size)
	n.next.Encode(trg[2:])
	n.child.offset.Encode(trg[2+dataio.BlockOffsetSize:])
	copy(trg[2+2*dataio.BlockOffsetSize:NodeSize], n.chunk[:])
}

// decodeNode parses an encoded node read from the given location. Deleted
// nodes are decoded without error; callers decide whether they are valid.
func decodeNode(src []byte, location dataio.BlockOffset) (*node, error) {
	if len(src) != NodeSize {
		return nil, fmt.Errorf("%w: %d bytes at %v", ErrCorruptNode, len(src), location)
	}
	flags := src[0]
	res := &node{
		size:     int(src[1]),
		next:     dataio.DecodeBlockOffset(src[2:]),
		deleted:  flags&flagIsDeleted != 0,
		location: location,
	}
	if flags&flagIsValue != 0 {
		return nil, fmt.Errorf("%w: value header at %v", ErrCorruptNode, location)
	}
	if res.size > MaxKeyChunkSize {
		return nil, fmt.Errorf("%w: key chunk of %d bytes at %v", ErrCorruptNode, res.size, location)
	}
	if (flags&flagHasNext != 0) == res.next.IsEmpty() {
		return nil, fmt.Errorf("%w: inconsistent next reference at %v", ErrCorruptNode, location)
	}
	child := dataio.DecodeBlockOffset(src[2+dataio.BlockOffsetSize:])
	if (flags&flagHasChild != 0) == child.IsEmpty() {
		return nil, fmt.Errorf("%w: inconsistent child reference at %v", ErrCorruptNode, location)
	}
	if flags&flagChildIsValue != 0 {
		if child.IsEmpty() || res.size != 0 {
			return nil, fmt.Errorf("%w: invalid value reference at %v", ErrCorruptNode, location)
		}
		res.child = valueRef(child)
	} else {
		res.child = subtreeRef(child)
	}
	copy(res.chunk[:], src[2+2*dataio.BlockOffsetSize:NodeSize])
	return res, nil
}

// valueInfo is the decoded header of a value record.
type valueInfo struct {
	deleted bool
	length  uint64
}

func encodeValueRecord(val []byte) []byte {
	res := make([]byte, ValueRecordSize(len(val)))
	res[0] = flagIsValue
	binary.BigEndian.PutUint64(res[valueHeaderSize:], uint64(len(val)))
	copy(res[valueInfoSize:], val)
	return res
}

func decodeValueInfo(src []byte, location dataio.BlockOffset) (valueInfo, error) {
	if len(src) != valueInfoSize {
		return valueInfo{}, fmt.Errorf("%w: %d bytes at %v", ErrCorruptValue, len(src), location)
	}
	if src[0]&flagIsValue == 0 {
		return valueInfo{}, fmt.Errorf("%w: header at %v is not a value header", ErrCorruptValue, location)
	}
	return valueInfo{
		deleted: src[0]&flagIsDeleted != 0,
		length:  binary.BigEndian.Uint64(src[valueHeaderSize:]),
	}, nil
}
