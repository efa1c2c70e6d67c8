// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package ldb provides a LevelDB based block store backend. Blocks are stored
// compressed under table-space prefixed keys; updates are applied as single
// synced LevelDB batches and are thus atomic.
package ldb

import (
	"encoding/binary"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/blockstore"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/compress"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// TableSpace divides the key space of the database by adding a prefix to the key.
type TableSpace byte

const (
	// BlockKey is the table space of block payloads, keyed by block number.
	BlockKey TableSpace = 'B'
	// NumBlocksKey holds the number of blocks.
	NumBlocksKey TableSpace = 'N'
	// MetaKey holds the opaque meta data blob.
	MetaKey TableSpace = 'M'
	// ConfigKey holds the block size and compression fixed at creation time.
	ConfigKey TableSpace = 'C'
)

const ErrConfigMismatch = common.ConstError("database was created with a different configuration")

func blockKey(n blockstore.BlockNumber) []byte {
	var res [5]byte
	res[0] = byte(BlockKey)
	binary.BigEndian.PutUint32(res[1:], uint32(n))
	return res[:]
}

func singleKey(t TableSpace) []byte {
	return []byte{byte(t)}
}

type backend struct {
	db          *leveldb.DB
	blockSize   int
	compression compress.Algorithm
	numBlocks   blockstore.BlockNumber
}

// OpenBackend opens or creates a LevelDB backed block store in the given
// directory. The block size and compression of an existing database must
// match the requested ones.
func OpenBackend(directory string, blockSize int, compression compress.Algorithm) (blockstore.Backend, error) {
	if err := blockstore.CheckBlockSize(blockSize); err != nil {
		return nil, err
	}
	if _, err := compression.Encode(nil); err != nil {
		return nil, err
	}
	db, err := leveldb.OpenFile(directory, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open LevelDB in %s", directory)
	}
	res := &backend{
		db:          db,
		blockSize:   blockSize,
		compression: compression,
	}
	if err := res.init(); err != nil {
		db.Close()
		return nil, err
	}
	return res, nil
}

func (b *backend) init() error {
	config, err := b.db.Get(singleKey(ConfigKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		config = make([]byte, 5)
		binary.BigEndian.PutUint32(config, uint32(b.blockSize))
		config[4] = byte(b.compression)
		return errors.WithStack(b.db.Put(singleKey(ConfigKey), config, &opt.WriteOptions{Sync: true}))
	}
	if err != nil {
		return errors.WithStack(err)
	}
	if len(config) != 5 {
		return errors.Wrapf(ErrConfigMismatch, "invalid config entry of %d bytes", len(config))
	}
	if size := int(binary.BigEndian.Uint32(config)); size != b.blockSize {
		return errors.Wrapf(blockstore.ErrBlockSizeMismatch, "database uses %d byte blocks, requested %d", size, b.blockSize)
	}
	if algorithm := compress.Algorithm(config[4]); algorithm != b.compression {
		return errors.Wrapf(ErrConfigMismatch, "database uses %v compression, requested %v", algorithm, b.compression)
	}

	count, err := b.db.Get(singleKey(NumBlocksKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.WithStack(err)
	}
	if len(count) != 4 {
		return errors.Wrapf(ErrConfigMismatch, "invalid block count entry of %d bytes", len(count))
	}
	b.numBlocks = blockstore.BlockNumber(binary.BigEndian.Uint32(count))
	return nil
}

func (b *backend) BlockSize() int {
	return b.blockSize
}

func (b *backend) NumBlocks() blockstore.BlockNumber {
	return b.numBlocks
}

func (b *backend) ReadBlock(n blockstore.BlockNumber, trg []byte) error {
	if n >= b.numBlocks {
		return errors.Wrapf(blockstore.ErrNoSuchBlock, "block %d", n)
	}
	if len(trg) != b.blockSize {
		return errors.Wrapf(blockstore.ErrBlockSizeMismatch, "buffer of %d bytes", len(trg))
	}
	data, err := b.db.Get(blockKey(n), nil)
	if err != nil {
		return errors.Wrapf(err, "failed to read block %d", n)
	}
	decoded, err := b.compression.Decode(data)
	if err != nil {
		return errors.Wrapf(err, "failed to decode block %d", n)
	}
	if len(decoded) != b.blockSize {
		return errors.Wrapf(blockstore.ErrBlockSizeMismatch, "stored block %d has %d bytes", n, len(decoded))
	}
	copy(trg, decoded)
	return nil
}

func (b *backend) ReadMeta() ([]byte, error) {
	meta, err := b.db.Get(singleKey(MetaKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	return meta, errors.WithStack(err)
}

func (b *backend) Apply(update *blockstore.Update) error {
	if err := update.Check(b.blockSize, b.numBlocks); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	for _, n := range update.SortedBlockNumbers() {
		data, err := b.compression.Encode(update.Blocks[n])
		if err != nil {
			return errors.Wrapf(err, "failed to encode block %d", n)
		}
		batch.Put(blockKey(n), data)
	}
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(update.NumBlocks))
	batch.Put(singleKey(NumBlocksKey), count[:])
	if update.Meta != nil {
		batch.Put(singleKey(MetaKey), update.Meta)
	}
	if err := b.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return errors.Wrap(err, "failed to write block store update")
	}
	b.numBlocks = update.NumBlocks
	return nil
}

func (b *backend) GetMemoryFootprint() *common.MemoryFootprint {
	return common.NewMemoryFootprint(unsafe.Sizeof(*b))
}

func (b *backend) Flush() error {
	return nil
}

func (b *backend) Close() error {
	return errors.WithStack(b.db.Close())
}
