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
	"errors"
	"fmt"
	"io"
	"unsafe"

	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/blockstore"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/blockstore/file"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/blockstore/ldb"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/blockstore/memory"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/compress"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/dataio"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/freespace"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/common"
	log "github.com/sirupsen/logrus"
)

const metaFormatVersion = 1

// State is a key/value store backed by a trie in a block store. Changes are
// buffered until they are committed; a commit is atomic. Once an operation
// failed, the state refuses any further operation with ErrMustAbort until
// Abort reverted it to the last committed state.
//
// A State is not safe for concurrent use.
type State struct {
	config  Config
	store   *blockstore.Store
	io      *dataio.DataNodeIO
	free    *freespace.Collector
	trie    *trie
	lock    *common.DirectoryLock
	failure error
	closed  bool
}

// OpenInMemory creates an empty state retaining its content in memory only.
func OpenInMemory(config Config) (*State, error) {
	backend, err := memory.NewBackend(config.BlockSize)
	if err != nil {
		return nil, err
	}
	return Open(backend, config)
}

// OpenFile opens the state stored in the given directory using a file based
// block store, creating it if needed. The directory is locked while the
// state is open.
func OpenFile(directory string, config Config) (*State, error) {
	return openInDirectory(directory, config, func() (blockstore.Backend, error) {
		return file.OpenBackend(directory, config.BlockSize)
	})
}

// OpenLevelDB opens the state stored in a LevelDB instance in the given
// directory, creating it if needed.
func OpenLevelDB(directory string, config Config) (*State, error) {
	return openInDirectory(directory, config, func() (blockstore.Backend, error) {
		return ldb.OpenBackend(directory, config.BlockSize, config.Compression)
	})
}

func openInDirectory(directory string, config Config, open func() (blockstore.Backend, error)) (*State, error) {
	if err := config.Check(); err != nil {
		return nil, err
	}
	lock, err := common.LockDirectory(directory)
	if err != nil {
		return nil, err
	}
	backend, err := open()
	if err != nil {
		return nil, errors.Join(err, lock.Release())
	}
	state, err := Open(backend, config)
	if err != nil {
		return nil, errors.Join(err, backend.Close(), lock.Release())
	}
	state.lock = lock
	return state, nil
}

// Open creates a state on top of the given backend. An empty backend is
// initialized with an empty trie. On success, the state takes ownership of
// the backend and closes it when being closed.
func Open(backend blockstore.Backend, config Config) (*State, error) {
	if err := config.Check(); err != nil {
		return nil, err
	}
	if backend.BlockSize() != config.BlockSize {
		return nil, fmt.Errorf("%w: backend uses %d byte blocks, configuration %d", blockstore.ErrBlockSizeMismatch, backend.BlockSize(), config.BlockSize)
	}
	store, err := blockstore.NewStore(backend)
	if err != nil {
		return nil, err
	}
	res := &State{
		config: config,
		store:  store,
	}
	if store.NumBlocks() == 0 {
		err = res.create()
	} else {
		err = res.load()
	}
	if err != nil {
		store.Discard()
		return nil, err
	}
	log.WithFields(log.Fields{
		"config":     config.Name,
		"data_nodes": res.io.NumDataNodes(),
		"free_bytes": res.free.FreeBytes(),
	}).Debug("opened trie state")
	return res, nil
}

// create formats the empty store and commits the empty trie.
func (s *State) create() error {
	if err := dataio.Initialize(s.store); err != nil {
		return err
	}
	if err := s.attach(); err != nil {
		return err
	}
	if err := s.trie.initRoot(); err != nil {
		return err
	}
	return s.commit()
}

// load restores the state of the last commit from the store.
func (s *State) load() error {
	if err := s.attach(); err != nil {
		return err
	}
	if err := decodeMeta(s.store.Meta(), s.free); err != nil {
		return err
	}
	if _, err := s.trie.readLiveNode(rootLocation); err != nil {
		return fmt.Errorf("invalid root anchor: %w", err)
	}
	return nil
}

func (s *State) attach() error {
	io, err := dataio.Open(s.store, s.config.NodeCacheSize)
	if err != nil {
		return err
	}
	s.io = io
	s.free = freespace.NewCollector(io)
	s.trie = newTrie(io, s.free, s.config)
	return nil
}

func (s *State) commit() error {
	if err := s.io.Flush(); err != nil {
		return err
	}
	meta, err := encodeMeta(s.free)
	if err != nil {
		return err
	}
	s.store.SetMeta(meta)
	return s.store.Sync()
}

// encodeMeta produces the meta data blob persisted with every commit: a
// version byte followed by the snappy compressed free list.
func encodeMeta(free *freespace.Collector) ([]byte, error) {
	list, err := free.MarshalBinary()
	if err != nil {
		return nil, err
	}
	compressed, err := compress.Snappy.Encode(list)
	if err != nil {
		return nil, err
	}
	return append([]byte{metaFormatVersion}, compressed...), nil
}

func decodeMeta(meta []byte, free *freespace.Collector) error {
	if len(meta) == 0 {
		return fmt.Errorf("%w: missing", ErrCorruptMeta)
	}
	if meta[0] != metaFormatVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptMeta, meta[0])
	}
	list, err := compress.Snappy.Decode(meta[1:])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptMeta, err)
	}
	if err := free.UnmarshalBinary(list); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptMeta, err)
	}
	return nil
}

func (s *State) ready() error {
	if s.closed {
		return ErrClosed
	}
	if s.failure != nil {
		return fmt.Errorf("%w: %w", ErrMustAbort, s.failure)
	}
	return nil
}

func (s *State) operate(op Operation, key, val []byte) ([]byte, bool, error) {
	if err := s.ready(); err != nil {
		return nil, false, err
	}
	res, found, err := s.trie.operate(op, key, val)
	if err != nil {
		// Rejected requests leave the trie untouched.
		if !errors.Is(err, ErrKeyTooLong) && !errors.Is(err, ErrInvalidOperation) {
			s.failure = err
		}
		return nil, false, err
	}
	return res, found, nil
}

// Put associates the given value to the key, replacing any previous value.
func (s *State) Put(key, value []byte) error {
	_, _, err := s.operate(Put, key, value)
	return err
}

// Get retrieves the value associated to the key. The boolean result is
// false if there is none.
func (s *State) Get(key []byte) ([]byte, bool, error) {
	return s.operate(Get, key, nil)
}

// Delete removes the key and its value. The boolean result is false if the
// key was not present.
func (s *State) Delete(key []byte) (bool, error) {
	_, found, err := s.operate(Delete, key, nil)
	return found, err
}

// Operate is the generic form of Put, Get, and Delete.
func (s *State) Operate(op Operation, key, value []byte) ([]byte, bool, error) {
	return s.operate(op, key, value)
}

// HasPendingChanges is true if there are uncommitted modifications.
func (s *State) HasPendingChanges() bool {
	return s.store.HasPendingChanges()
}

// Commit atomically persists all modifications since the last commit.
func (s *State) Commit() error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.commit(); err != nil {
		s.failure = err
		return fmt.Errorf("failed to commit trie state: %w", err)
	}
	log.WithFields(log.Fields{
		"data_nodes": s.io.NumDataNodes(),
		"free_bytes": s.free.FreeBytes(),
	}).Debug("committed trie state")
	return nil
}

// Abort drops all modifications since the last commit and clears a
// previous failure.
func (s *State) Abort() error {
	if s.closed {
		return ErrClosed
	}
	s.store.Discard()
	s.failure = nil
	if err := s.load(); err != nil {
		s.failure = err
		return fmt.Errorf("failed to reload trie state: %w", err)
	}
	log.Debug("aborted trie state modifications")
	return nil
}

// Close drops uncommitted modifications and releases all resources.
func (s *State) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	closers := []io.Closer{s.store}
	if s.lock != nil {
		closers = append(closers, s.lock)
	}
	return common.CloseAll(closers...)
}

func (s *State) GetMemoryFootprint() *common.MemoryFootprint {
	res := common.NewMemoryFootprint(unsafe.Sizeof(*s))
	res.AddChild("store", s.store.GetMemoryFootprint())
	res.AddChild("dataio", s.io.GetMemoryFootprint())
	res.AddChild("freespace", s.free.GetMemoryFootprint())
	return res
}
