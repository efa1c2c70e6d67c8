// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package memory

import (
	"bytes"
	"fmt"
	"unsafe"

	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/blockstore"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/common"
)

// backend is an in-memory implementation of the blockstore.Backend interface.
// Its content is lost when closed.
type backend struct {
	blockSize int
	blocks    [][]byte
	meta      []byte
}

// NewBackend creates an empty in-memory block store backend.
func NewBackend(blockSize int) (blockstore.Backend, error) {
	if err := blockstore.CheckBlockSize(blockSize); err != nil {
		return nil, err
	}
	return &backend{blockSize: blockSize}, nil
}

func (b *backend) BlockSize() int {
	return b.blockSize
}

func (b *backend) NumBlocks() blockstore.BlockNumber {
	return blockstore.BlockNumber(len(b.blocks))
}

func (b *backend) ReadBlock(n blockstore.BlockNumber, trg []byte) error {
	if int(n) >= len(b.blocks) {
		return fmt.Errorf("%w: %d", blockstore.ErrNoSuchBlock, n)
	}
	if len(trg) != b.blockSize {
		return fmt.Errorf("%w: buffer of %d bytes", blockstore.ErrBlockSizeMismatch, len(trg))
	}
	copy(trg, b.blocks[n])
	return nil
}

func (b *backend) ReadMeta() ([]byte, error) {
	return bytes.Clone(b.meta), nil
}

func (b *backend) Apply(update *blockstore.Update) error {
	if err := update.Check(b.blockSize, b.NumBlocks()); err != nil {
		return err
	}
	for len(b.blocks) < int(update.NumBlocks) {
		b.blocks = append(b.blocks, nil)
	}
	for n, data := range update.Blocks {
		b.blocks[n] = bytes.Clone(data)
	}
	if update.Meta != nil {
		b.meta = bytes.Clone(update.Meta)
	}
	return nil
}

func (b *backend) GetMemoryFootprint() *common.MemoryFootprint {
	res := common.NewMemoryFootprint(unsafe.Sizeof(*b))
	res.AddChild("blocks", common.NewMemoryFootprint(uintptr(len(b.blocks)*b.blockSize)))
	res.AddChild("meta", common.NewMemoryFootprint(uintptr(len(b.meta))))
	return res
}

func (b *backend) Flush() error {
	return nil
}

func (b *backend) Close() error {
	return nil
}
