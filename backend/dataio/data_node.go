// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package dataio

import (
	"encoding/binary"
	"fmt"

	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/blockstore"
)

// dataNode is the in-memory representation of a block of the store forming
// one link in the chain of data nodes.
type dataNode struct {
	number    uint32
	block     blockstore.BlockNumber
	next      blockstore.BlockNumber
	freeBytes uint32
	data      []byte // the full block, header included
	dirty     bool
}

func newDataNode(number uint32, block blockstore.BlockNumber, blockSize int) *dataNode {
	return &dataNode{
		number:    number,
		block:     block,
		next:      blockstore.NoBlock,
		freeBytes: uint32(blockSize - DataBeginIndex),
		data:      make([]byte, blockSize),
		dirty:     true,
	}
}

// decodeDataNode parses and validates the header of the given block.
func decodeDataNode(block blockstore.BlockNumber, data []byte) (*dataNode, error) {
	if len(data) < DataBeginIndex {
		return nil, fmt.Errorf("%w: block %d too small", ErrCorruptDataNode, block)
	}
	if version := data[12]; version != FormatVersion {
		return nil, fmt.Errorf("%w: block %d has unsupported format version %d", ErrCorruptDataNode, block, version)
	}
	res := &dataNode{
		number:    binary.BigEndian.Uint32(data[0:4]),
		block:     block,
		next:      blockstore.BlockNumber(binary.BigEndian.Uint32(data[4:8])),
		freeBytes: binary.BigEndian.Uint32(data[8:12]),
		data:      data,
	}
	if int(res.freeBytes) > len(data)-DataBeginIndex {
		return nil, fmt.Errorf("%w: block %d claims %d free bytes", ErrCorruptDataNode, block, res.freeBytes)
	}
	return res, nil
}

func (n *dataNode) encodeHeader() {
	binary.BigEndian.PutUint32(n.data[0:4], n.number)
	binary.BigEndian.PutUint32(n.data[4:8], uint32(n.next))
	binary.BigEndian.PutUint32(n.data[8:12], n.freeBytes)
	n.data[12] = FormatVersion
	clear(n.data[13:DataBeginIndex])
}

// usedBytes is the number of bytes of the data region in use.
func (n *dataNode) usedBytes() uint32 {
	return uint32(len(n.data)-DataBeginIndex) - n.freeBytes
}
