// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package blockstore provides the persistence substrate of the state trie:
// fixed-size blocks addressed by monotonically assigned block numbers.
//
// Backends implement the durable part (memory, file, LevelDB). Clients never
// write to a backend directly; they operate on a Store, which buffers all
// appended and written blocks in memory until Sync is called. Sync applies the
// buffered changes atomically, Discard drops them. A failed transaction is
// thus simply never synced.
package blockstore

import (
	"fmt"
	"math"

	"github.com/samkenxstream/SAMkenxprivate-data-objects/common"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

//go:generate mockgen -source blockstore.go -destination blockstore_mocks.go -package blockstore

// BlockNumber addresses a block within a block store.
type BlockNumber uint32

const (
	// RootBlockNumber is the number of the first block of every store.
	RootBlockNumber BlockNumber = 0
	// NoBlock is a sentinel never assigned to a real block.
	NoBlock BlockNumber = math.MaxUint32
	// DefaultBlockSize is the block size used unless configured otherwise.
	DefaultBlockSize = 8 * 1024
	// MinBlockSize is the smallest supported block size.
	MinBlockSize = 64
	// MaxBlockSize is the largest supported block size.
	MaxBlockSize = 1 << 24
)

const (
	ErrNoSuchBlock       = common.ConstError("no such block")
	ErrInvalidBlockSize  = common.ConstError("invalid block size")
	ErrStoreFull         = common.ConstError("block number space exhausted")
	ErrInvalidUpdate     = common.ConstError("invalid block store update")
	ErrBlockSizeMismatch = common.ConstError("block size does not match the stored block size")
)

// Backend is the durable part of a block store. Implementations are not
// required to be safe for concurrent use.
type Backend interface {
	// BlockSize returns the fixed size of every block in bytes.
	BlockSize() int

	// NumBlocks returns the number of durable blocks. Valid block numbers
	// are in the range [0, NumBlocks).
	NumBlocks() BlockNumber

	// ReadBlock copies the content of the given block into the target slice,
	// which must be exactly BlockSize bytes long.
	ReadBlock(BlockNumber, []byte) error

	// ReadMeta returns the opaque meta data blob stored alongside the blocks,
	// nil if none has been stored yet.
	ReadMeta() ([]byte, error)

	// Apply makes the given update durable. Either all of the update's block
	// and meta changes are persisted, or none of them is, also in the event
	// of a crash during the operation.
	Apply(*Update) error

	common.MemoryFootprintProvider
	common.FlushAndCloser
}

// Update summarizes the changes buffered by a Store since its last sync.
type Update struct {
	// NumBlocks is the number of blocks in the store after the update.
	NumBlocks BlockNumber
	// Blocks are the full contents of added or modified blocks.
	Blocks map[BlockNumber][]byte
	// Meta is the new meta data blob; nil if unchanged.
	Meta []byte
}

// IsEmpty is true if applying the update would not change a store with the
// given number of blocks.
func (u *Update) IsEmpty(numBlocks BlockNumber) bool {
	return u.NumBlocks == numBlocks && len(u.Blocks) == 0 && u.Meta == nil
}

// SortedBlockNumbers returns the numbers of the blocks in the update in
// ascending order.
func (u *Update) SortedBlockNumbers() []BlockNumber {
	res := maps.Keys(u.Blocks)
	slices.Sort(res)
	return res
}

// Check verifies that the update can be applied to a store with the given
// block size currently containing the given number of blocks. Stores never
// shrink and appended blocks must all be covered by the update.
func (u *Update) Check(blockSize int, numBlocks BlockNumber) error {
	if u.NumBlocks < numBlocks {
		return fmt.Errorf("%w: store can not shrink from %d to %d blocks", ErrInvalidUpdate, numBlocks, u.NumBlocks)
	}
	if u.NumBlocks == NoBlock {
		return fmt.Errorf("%w: too many blocks", ErrInvalidUpdate)
	}
	for n, data := range u.Blocks {
		if n >= u.NumBlocks {
			return fmt.Errorf("%w: block %d out of range [0,%d)", ErrInvalidUpdate, n, u.NumBlocks)
		}
		if len(data) != blockSize {
			return fmt.Errorf("%w: block %d has %d bytes, expected %d", ErrInvalidUpdate, n, len(data), blockSize)
		}
	}
	for n := numBlocks; n < u.NumBlocks; n++ {
		if _, found := u.Blocks[n]; !found {
			return fmt.Errorf("%w: missing content of appended block %d", ErrInvalidUpdate, n)
		}
	}
	return nil
}

// CheckBlockSize verifies that a block size can be used for a store.
func CheckBlockSize(size int) error {
	if size < MinBlockSize || size > MaxBlockSize {
		return fmt.Errorf("%w: %d", ErrInvalidBlockSize, size)
	}
	return nil
}
