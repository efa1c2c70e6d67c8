// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package blockstore

import (
	"bytes"
	"fmt"
	"unsafe"

	"github.com/samkenxstream/SAMkenxprivate-data-objects/common"
)

// Store is a transactional view on a Backend. All appends and writes are
// buffered in memory and only become durable through Sync. Discard reverts
// the store to the state of the last successful Sync.
//
// A Store is exclusively owned by a single transaction at a time and is not
// safe for concurrent use.
type Store struct {
	backend   Backend
	blockSize int

	committedBlocks BlockNumber // = number of blocks in the backend
	numBlocks       BlockNumber // including pending appends
	dirty           map[BlockNumber][]byte

	committedMeta []byte
	meta          []byte
	metaDirty     bool
}

// NewStore creates a store operating on top of the given backend.
func NewStore(backend Backend) (*Store, error) {
	if err := CheckBlockSize(backend.BlockSize()); err != nil {
		return nil, err
	}
	meta, err := backend.ReadMeta()
	if err != nil {
		return nil, fmt.Errorf("failed to read block store meta data: %w", err)
	}
	return &Store{
		backend:         backend,
		blockSize:       backend.BlockSize(),
		committedBlocks: backend.NumBlocks(),
		numBlocks:       backend.NumBlocks(),
		dirty:           map[BlockNumber][]byte{},
		committedMeta:   meta,
		meta:            meta,
	}, nil
}

// BlockSize returns the fixed size of the blocks in this store.
func (s *Store) BlockSize() int {
	return s.blockSize
}

// RootBlockNumber returns the number of the designated root block.
func (s *Store) RootBlockNumber() BlockNumber {
	return RootBlockNumber
}

// NumBlocks returns the number of blocks, including pending appends.
func (s *Store) NumBlocks() BlockNumber {
	return s.numBlocks
}

// AppendBlock adds a new, zero-initialized block to the store and returns its number.
func (s *Store) AppendBlock() (BlockNumber, error) {
	if s.numBlocks+1 >= NoBlock {
		return NoBlock, ErrStoreFull
	}
	res := s.numBlocks
	s.dirty[res] = make([]byte, s.blockSize)
	s.numBlocks++
	return res, nil
}

// ReadBlock returns a copy of the current content of the given block.
func (s *Store) ReadBlock(n BlockNumber) ([]byte, error) {
	if n >= s.numBlocks {
		return nil, fmt.Errorf("%w: %d, store has %d blocks", ErrNoSuchBlock, n, s.numBlocks)
	}
	if data, found := s.dirty[n]; found {
		return bytes.Clone(data), nil
	}
	res := make([]byte, s.blockSize)
	if err := s.backend.ReadBlock(n, res); err != nil {
		return nil, err
	}
	return res, nil
}

// WriteBlock replaces the content of the given block. The data must have
// exactly the size of a block and is copied.
func (s *Store) WriteBlock(n BlockNumber, data []byte) error {
	if n >= s.numBlocks {
		return fmt.Errorf("%w: %d, store has %d blocks", ErrNoSuchBlock, n, s.numBlocks)
	}
	if len(data) != s.blockSize {
		return fmt.Errorf("%w: got %d bytes, expected %d", ErrBlockSizeMismatch, len(data), s.blockSize)
	}
	s.dirty[n] = bytes.Clone(data)
	return nil
}

// Meta returns a copy of the current meta data blob.
func (s *Store) Meta() []byte {
	return bytes.Clone(s.meta)
}

// SetMeta replaces the meta data blob. The change is buffered like block writes.
func (s *Store) SetMeta(meta []byte) {
	s.meta = bytes.Clone(meta)
	if s.meta == nil {
		s.meta = []byte{}
	}
	s.metaDirty = true
}

// HasPendingChanges is true if there are changes not yet synced.
func (s *Store) HasPendingChanges() bool {
	return s.numBlocks != s.committedBlocks || len(s.dirty) > 0 || s.metaDirty
}

// Sync atomically persists all pending changes in the backend. If Sync
// fails, the pending changes are retained; it is up to the caller to retry
// or to Discard them.
func (s *Store) Sync() error {
	if !s.HasPendingChanges() {
		return nil
	}
	update := &Update{
		NumBlocks: s.numBlocks,
		Blocks:    s.dirty,
	}
	if s.metaDirty {
		update.Meta = s.meta
	}
	if err := update.Check(s.blockSize, s.committedBlocks); err != nil {
		return err
	}
	if err := s.backend.Apply(update); err != nil {
		return fmt.Errorf("failed to sync block store: %w", err)
	}
	s.committedBlocks = s.numBlocks
	s.dirty = map[BlockNumber][]byte{}
	s.committedMeta = s.meta
	s.metaDirty = false
	return nil
}

// Discard drops all pending changes.
func (s *Store) Discard() {
	s.numBlocks = s.committedBlocks
	s.dirty = map[BlockNumber][]byte{}
	s.meta = s.committedMeta
	s.metaDirty = false
}

// Flush flushes the backend. Pending changes are not affected.
func (s *Store) Flush() error {
	return s.backend.Flush()
}

// Close discards pending changes and closes the backend.
func (s *Store) Close() error {
	s.Discard()
	return s.backend.Close()
}

func (s *Store) GetMemoryFootprint() *common.MemoryFootprint {
	res := common.NewMemoryFootprint(unsafe.Sizeof(*s))
	res.AddChild("pending", common.NewMemoryFootprint(uintptr(len(s.dirty)*s.blockSize)))
	res.AddChild("backend", s.backend.GetMemoryFootprint())
	return res
}
