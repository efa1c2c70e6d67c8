// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package freespace keeps track of released extents of a data region and
// hands them out again for new allocations.
package freespace

import (
	"encoding/binary"
	"fmt"
	"sort"
	"unsafe"

	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/dataio"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/common"
	"golang.org/x/exp/slices"
)

const (
	ErrInvalidExtent     = common.ConstError("invalid extent")
	ErrOverlappingExtent = common.ConstError("extent overlaps free extent")
	ErrCorruptFreeList   = common.ConstError("corrupt free list encoding")
)

const encodedExtentSize = dataio.BlockOffsetSize + 8

//go:generate mockgen -source freespace.go -destination freespace_mocks.go -package freespace

// Addressing computes offsets within the data region an allocator operates on.
type Addressing interface {
	Advance(offset dataio.BlockOffset, n uint64) dataio.BlockOffset
}

// Collector is a first-fit pool of free extents. An extent larger than an
// allocation request is split; its tail remains in the pool. Adjacent
// extents are not merged.
type Collector struct {
	addressing Addressing
	extents    []dataio.Extent // in allocation order
	byPosition []dataio.Extent // the same extents ordered by offset
	freeBytes  uint64
}

func NewCollector(addressing Addressing) *Collector {
	return &Collector{addressing: addressing}
}

// Collect adds the given extent to the pool.
func (c *Collector) Collect(offset dataio.BlockOffset, size uint64) error {
	if offset.IsEmpty() || size == 0 {
		return fmt.Errorf("%w: %d bytes at %v", ErrInvalidExtent, size, offset)
	}
	if cur, found := c.findOverlap(offset, size); found {
		return fmt.Errorf("%w: %v and %v", ErrOverlappingExtent, dataio.Extent{Offset: offset, Size: size}, cur)
	}
	extent := dataio.Extent{Offset: offset, Size: size}
	c.extents = append(c.extents, extent)
	c.byPosition = slices.Insert(c.byPosition, c.search(offset), extent)
	c.freeBytes += size
	return nil
}

// Allocate removes size bytes from the first extent large enough to serve
// them. The boolean result is false if no such extent exists.
func (c *Collector) Allocate(size uint64) (dataio.BlockOffset, bool) {
	if size == 0 {
		return dataio.EmptyOffset, false
	}
	for i, cur := range c.extents {
		if cur.Size < size {
			continue
		}
		// A split extent keeps its rank in position order.
		j := c.search(cur.Offset)
		if cur.Size == size {
			c.extents = slices.Delete(c.extents, i, i+1)
			c.byPosition = slices.Delete(c.byPosition, j, j+1)
		} else {
			rest := dataio.Extent{
				Offset: c.addressing.Advance(cur.Offset, size),
				Size:   cur.Size - size,
			}
			c.extents[i] = rest
			c.byPosition[j] = rest
		}
		c.freeBytes -= size
		return cur.Offset, true
	}
	return dataio.EmptyOffset, false
}

// FreeBytes is the total size of all extents in the pool.
func (c *Collector) FreeBytes() uint64 {
	return c.freeBytes
}

// Len is the number of extents in the pool.
func (c *Collector) Len() int {
	return len(c.extents)
}

// Extents returns a copy of the extents in allocation order.
func (c *Collector) Extents() []dataio.Extent {
	return slices.Clone(c.extents)
}

// Overlaps is true if the given range overlaps any free extent.
func (c *Collector) Overlaps(offset dataio.BlockOffset, size uint64) bool {
	_, found := c.findOverlap(offset, size)
	return found
}

// search returns the index of the first extent in position order starting
// at or after the given offset.
func (c *Collector) search(offset dataio.BlockOffset) int {
	return sort.Search(len(c.byPosition), func(i int) bool {
		return !less(c.byPosition[i].Offset, offset)
	})
}

// findOverlap locates a free extent sharing bytes with the given range. Free
// extents are disjoint, so only the last one starting before the end of the
// range can overlap it.
func (c *Collector) findOverlap(offset dataio.BlockOffset, size uint64) (dataio.Extent, bool) {
	if len(c.byPosition) == 0 {
		return dataio.Extent{}, false
	}
	i := c.search(c.addressing.Advance(offset, size))
	if i == 0 {
		return dataio.Extent{}, false
	}
	cur := c.byPosition[i-1]
	if less(offset, c.addressing.Advance(cur.Offset, cur.Size)) {
		return cur, true
	}
	return dataio.Extent{}, false
}

func (c *Collector) MarshalBinary() ([]byte, error) {
	res := make([]byte, 4, 4+len(c.extents)*encodedExtentSize)
	binary.BigEndian.PutUint32(res, uint32(len(c.extents)))
	var buffer [encodedExtentSize]byte
	for _, cur := range c.extents {
		cur.Offset.Encode(buffer[:])
		binary.BigEndian.PutUint64(buffer[dataio.BlockOffsetSize:], cur.Size)
		res = append(res, buffer[:]...)
	}
	return res, nil
}

// UnmarshalBinary replaces the content of the pool by the decoded extents.
// The decoded extents are validated like collected ones. On failure, the
// pool is not modified.
func (c *Collector) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("%w: %d bytes", ErrCorruptFreeList, len(data))
	}
	count := int(binary.BigEndian.Uint32(data))
	data = data[4:]
	if len(data) != count*encodedExtentSize {
		return fmt.Errorf("%w: %d extents in %d bytes", ErrCorruptFreeList, count, len(data))
	}
	extents := make([]dataio.Extent, 0, count)
	freeBytes := uint64(0)
	for i := 0; i < count; i++ {
		entry := data[i*encodedExtentSize:]
		cur := dataio.Extent{
			Offset: dataio.DecodeBlockOffset(entry),
			Size:   binary.BigEndian.Uint64(entry[dataio.BlockOffsetSize:]),
		}
		if cur.Offset.IsEmpty() || cur.Size == 0 {
			return fmt.Errorf("%w: %w: %v", ErrCorruptFreeList, ErrInvalidExtent, cur)
		}
		extents = append(extents, cur)
		freeBytes += cur.Size
	}

	byPosition := slices.Clone(extents)
	sort.Slice(byPosition, func(i, j int) bool {
		return less(byPosition[i].Offset, byPosition[j].Offset)
	})
	for i := 1; i < len(byPosition); i++ {
		prev, cur := byPosition[i-1], byPosition[i]
		if less(cur.Offset, c.addressing.Advance(prev.Offset, prev.Size)) {
			return fmt.Errorf("%w: %w: %v and %v", ErrCorruptFreeList, ErrOverlappingExtent, prev, cur)
		}
	}

	c.extents = extents
	c.byPosition = byPosition
	c.freeBytes = freeBytes
	return nil
}

func (c *Collector) GetMemoryFootprint() *common.MemoryFootprint {
	return common.NewMemoryFootprint(unsafe.Sizeof(*c) + uintptr(cap(c.extents)+cap(c.byPosition))*unsafe.Sizeof(dataio.Extent{}))
}

// less orders offsets by their position in the data region.
func less(a, b dataio.BlockOffset) bool {
	if a.BlockNum != b.BlockNum {
		return a.BlockNum < b.BlockNum
	}
	return a.Index < b.Index
}
