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
)

const (
	// DataBeginIndex is the index of the first data byte in every data node.
	DataBeginIndex = 16
	// BlockOffsetSize is the size of an encoded BlockOffset.
	BlockOffsetSize = 8
	// FormatVersion is the version of the data node header layout.
	FormatVersion = 1
)

// BlockOffset addresses a byte within the data region of the chain of data
// nodes. BlockNum is the number of the data node, Index the byte position
// within its block. The zero value is the empty offset; it never addresses
// data since index 0 is part of the data node header.
type BlockOffset struct {
	BlockNum uint32
	Index    uint32
}

// EmptyOffset is the offset not referencing anything.
var EmptyOffset = BlockOffset{}

func (o BlockOffset) IsEmpty() bool {
	return o == EmptyOffset
}

func (o BlockOffset) String() string {
	if o.IsEmpty() {
		return "-"
	}
	return fmt.Sprintf("%d:%d", o.BlockNum, o.Index)
}

// Encode writes the big endian encoding of the offset into the first
// BlockOffsetSize bytes of trg.
func (o BlockOffset) Encode(trg []byte) {
	binary.BigEndian.PutUint32(trg[0:4], o.BlockNum)
	binary.BigEndian.PutUint32(trg[4:8], o.Index)
}

// DecodeBlockOffset is the inverse of BlockOffset.Encode.
func DecodeBlockOffset(src []byte) BlockOffset {
	return BlockOffset{
		BlockNum: binary.BigEndian.Uint32(src[0:4]),
		Index:    binary.BigEndian.Uint32(src[4:8]),
	}
}

// Extent is a contiguous range of the data region, possibly spanning blocks.
type Extent struct {
	Offset BlockOffset
	Size   uint64
}

func (e Extent) String() string {
	return fmt.Sprintf("[%v+%d]", e.Offset, e.Size)
}
