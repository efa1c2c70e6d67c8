// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package dataio maps a chain of fixed-size blocks onto a single linear data
// region addressed by BlockOffsets. Ranges written and read through it may
// span any number of blocks. Space is reserved at the end of the region by
// moving an append cursor; the region never shrinks.
package dataio

import (
	"fmt"
	"unsafe"

	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/blockstore"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/common"
)

const (
	ErrAlreadyInitialized = common.ConstError("block store already initialized")
	ErrOutOfRange         = common.ConstError("range outside of allocated data region")
	ErrCorruptDataNode    = common.ConstError("corrupt data node")
	ErrInvalidCacheSize   = common.ConstError("data node cache must hold at least two nodes")
)

// DataNodeIO provides access to the data region of a block store. Data
// nodes are kept in an LRU cache; evicted dirty nodes are written into the
// store, where they remain buffered until the store is synced.
//
// A DataNodeIO is bound to the transaction of its store. After the store
// discarded its pending changes, a new instance must be opened.
type DataNodeIO struct {
	store      *blockstore.Store
	regionSize uint32                   // data bytes per block
	blocks     []blockstore.BlockNumber // data node number -> block number
	cache      *common.LruCache[uint32, *dataNode]
	tailFree   uint32 // free bytes of the last data node
}

// Initialize formats an empty store by creating data node 0 in the root block.
func Initialize(store *blockstore.Store) error {
	if store.NumBlocks() != 0 {
		return fmt.Errorf("%w: store contains %d blocks", ErrAlreadyInitialized, store.NumBlocks())
	}
	block, err := store.AppendBlock()
	if err != nil {
		return err
	}
	if block != store.RootBlockNumber() {
		return fmt.Errorf("%w: first block is %d, expected root block %d", ErrCorruptDataNode, block, store.RootBlockNumber())
	}
	root := newDataNode(0, block, store.BlockSize())
	root.encodeHeader()
	return store.WriteBlock(block, root.data)
}

// Open loads the chain of data nodes rooted in the root block of the given
// store. The store must have been initialized.
func Open(store *blockstore.Store, cacheSize int) (*DataNodeIO, error) {
	if cacheSize < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCacheSize, cacheSize)
	}
	if store.BlockSize() <= DataBeginIndex {
		return nil, fmt.Errorf("%w: %d", blockstore.ErrInvalidBlockSize, store.BlockSize())
	}
	res := &DataNodeIO{
		store:      store,
		regionSize: uint32(store.BlockSize() - DataBeginIndex),
		cache:      common.NewLruCache[uint32, *dataNode](cacheSize),
	}

	// Walk the chain; a chain longer than the store is cyclic.
	var tail *dataNode
	for block := store.RootBlockNumber(); block != blockstore.NoBlock; {
		if len(res.blocks) >= int(store.NumBlocks()) {
			return nil, fmt.Errorf("%w: chain of data nodes is cyclic", ErrCorruptDataNode)
		}
		data, err := store.ReadBlock(block)
		if err != nil {
			return nil, err
		}
		node, err := decodeDataNode(block, data)
		if err != nil {
			return nil, err
		}
		if want := uint32(len(res.blocks)); node.number != want {
			return nil, fmt.Errorf("%w: block %d holds data node %d, expected %d", ErrCorruptDataNode, block, node.number, want)
		}
		res.blocks = append(res.blocks, block)
		tail = node
		block = node.next
	}
	res.tailFree = tail.freeBytes
	if err := res.put(tail); err != nil {
		return nil, err
	}
	return res, nil
}

// RegionSize is the number of data bytes held by each data node.
func (d *DataNodeIO) RegionSize() uint32 {
	return d.regionSize
}

// NumDataNodes is the number of data nodes in the chain.
func (d *DataNodeIO) NumDataNodes() int {
	return len(d.blocks)
}

// AppendCursor returns the offset at which the next reservation starts. If
// the last data node is full, the cursor points to the start of a data node
// that does not exist yet.
func (d *DataNodeIO) AppendCursor() BlockOffset {
	used := uint64(len(d.blocks))*uint64(d.regionSize) - uint64(d.tailFree)
	return d.fromPosition(used)
}

// UsedBytes is the number of reserved bytes of the data region.
func (d *DataNodeIO) UsedBytes() uint64 {
	return d.position(d.AppendCursor())
}

// Advance moves the given offset n bytes forward, crossing block
// boundaries as needed.
func (d *DataNodeIO) Advance(offset BlockOffset, n uint64) BlockOffset {
	return d.fromPosition(d.position(offset) + n)
}

// position is the linear position of an offset within the data region.
func (d *DataNodeIO) position(offset BlockOffset) uint64 {
	return uint64(offset.BlockNum)*uint64(d.regionSize) + uint64(offset.Index) - DataBeginIndex
}

func (d *DataNodeIO) fromPosition(pos uint64) BlockOffset {
	return BlockOffset{
		BlockNum: uint32(pos / uint64(d.regionSize)),
		Index:    uint32(pos%uint64(d.regionSize)) + DataBeginIndex,
	}
}

// checkRange verifies that the given range lies within the allocated part
// of the data region.
func (d *DataNodeIO) checkRange(offset BlockOffset, length uint64) error {
	if offset.Index < DataBeginIndex || offset.Index >= d.regionSize+DataBeginIndex {
		return fmt.Errorf("%w: invalid offset %v", ErrOutOfRange, offset)
	}
	end := d.position(d.AppendCursor())
	start := d.position(offset)
	if start > end || length > end-start {
		return fmt.Errorf("%w: %d bytes at %v, region ends at %v", ErrOutOfRange, length, offset, d.AppendCursor())
	}
	return nil
}

// ReadRange reads length bytes starting at the given offset.
func (d *DataNodeIO) ReadRange(offset BlockOffset, length uint64) ([]byte, error) {
	if err := d.checkRange(offset, length); err != nil {
		return nil, err
	}
	res := make([]byte, length)
	err := d.forEachSegment(offset, length, func(node *dataNode, from, to uint32, pos uint64) {
		copy(res[pos:], node.data[from:to])
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// WriteRange overwrites len(data) bytes starting at the given offset.
func (d *DataNodeIO) WriteRange(data []byte, offset BlockOffset) error {
	if err := d.checkRange(offset, uint64(len(data))); err != nil {
		return err
	}
	return d.forEachSegment(offset, uint64(len(data)), func(node *dataNode, from, to uint32, pos uint64) {
		copy(node.data[from:to], data[pos:])
		node.dirty = true
	})
}

// forEachSegment splits a range into per-node segments [from, to) and
// calls the visitor with the position of each segment within the range.
func (d *DataNodeIO) forEachSegment(offset BlockOffset, length uint64, visit func(node *dataNode, from, to uint32, pos uint64)) error {
	for pos := uint64(0); pos < length; {
		node, err := d.get(offset.BlockNum)
		if err != nil {
			return err
		}
		n := uint64(d.regionSize + DataBeginIndex - offset.Index)
		if rest := length - pos; rest < n {
			n = rest
		}
		visit(node, offset.Index, offset.Index+uint32(n), pos)
		pos += n
		offset = BlockOffset{BlockNum: offset.BlockNum + 1, Index: DataBeginIndex}
	}
	return nil
}

// OffsetForAppend reserves size bytes at the end of the data region and
// returns their offset. A range fitting into a single data node never
// spans blocks: if the last node lacks the space, a new node is started and
// the abandoned bytes at the end of the old one are returned as slack. The
// slack extent is empty if no bytes were abandoned. Ranges larger than a
// data node start at the cursor and span as many new nodes as needed.
func (d *DataNodeIO) OffsetForAppend(size uint64) (BlockOffset, Extent, error) {
	var slack Extent
	if size > uint64(d.tailFree) && size <= uint64(d.regionSize) {
		if d.tailFree > 0 {
			slack = Extent{Offset: d.AppendCursor(), Size: uint64(d.tailFree)}
			if err := d.setTailFree(0); err != nil {
				return EmptyOffset, Extent{}, err
			}
		}
	}
	res := d.AppendCursor()
	if err := d.reserve(size); err != nil {
		return EmptyOffset, Extent{}, err
	}
	return res, slack, nil
}

func (d *DataNodeIO) reserve(size uint64) error {
	for size > 0 {
		if d.tailFree == 0 {
			if err := d.appendDataNode(); err != nil {
				return err
			}
		}
		n := uint64(d.tailFree)
		if size < n {
			n = size
		}
		if err := d.setTailFree(d.tailFree - uint32(n)); err != nil {
			return err
		}
		size -= n
	}
	return nil
}

func (d *DataNodeIO) setTailFree(free uint32) error {
	tail, err := d.get(uint32(len(d.blocks) - 1))
	if err != nil {
		return err
	}
	tail.freeBytes = free
	tail.dirty = true
	d.tailFree = free
	return nil
}

func (d *DataNodeIO) appendDataNode() error {
	block, err := d.store.AppendBlock()
	if err != nil {
		return err
	}
	tail, err := d.get(uint32(len(d.blocks) - 1))
	if err != nil {
		return err
	}
	tail.next = block
	tail.dirty = true

	node := newDataNode(uint32(len(d.blocks)), block, d.store.BlockSize())
	d.blocks = append(d.blocks, block)
	d.tailFree = node.freeBytes
	return d.put(node)
}

// get returns the given data node, loading it from the store if needed.
func (d *DataNodeIO) get(number uint32) (*dataNode, error) {
	if node, found := d.cache.Get(number); found {
		return node, nil
	}
	if int(number) >= len(d.blocks) {
		return nil, fmt.Errorf("%w: no data node %d", ErrOutOfRange, number)
	}
	block := d.blocks[number]
	data, err := d.store.ReadBlock(block)
	if err != nil {
		return nil, err
	}
	node, err := decodeDataNode(block, data)
	if err != nil {
		return nil, err
	}
	if node.number != number {
		return nil, fmt.Errorf("%w: block %d holds data node %d, expected %d", ErrCorruptDataNode, block, node.number, number)
	}
	return node, d.put(node)
}

func (d *DataNodeIO) put(node *dataNode) error {
	if _, evicted, found := d.cache.Set(node.number, node); found {
		return d.write(evicted)
	}
	return nil
}

func (d *DataNodeIO) write(node *dataNode) error {
	if !node.dirty {
		return nil
	}
	node.encodeHeader()
	if err := d.store.WriteBlock(node.block, node.data); err != nil {
		return err
	}
	node.dirty = false
	return nil
}

// Flush writes all modified data nodes into the store. The store keeps
// them buffered until it is synced.
func (d *DataNodeIO) Flush() (err error) {
	d.cache.Iterate(func(_ uint32, node *dataNode) bool {
		err = d.write(node)
		return err == nil
	})
	return err
}

func (d *DataNodeIO) GetMemoryFootprint() *common.MemoryFootprint {
	blockSize := uintptr(d.store.BlockSize())
	res := common.NewMemoryFootprint(unsafe.Sizeof(*d))
	res.AddChild("blocks", common.NewMemoryFootprint(uintptr(cap(d.blocks))*unsafe.Sizeof(blockstore.BlockNumber(0))))
	res.AddChild("cache", d.cache.GetDynamicMemoryFootprint(func(*dataNode) uintptr {
		return unsafe.Sizeof(dataNode{}) + blockSize
	}))
	return res
}
