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

import "fmt"

// Statistics summarizes the content of a state.
type Statistics struct {
	NumNodes       int    // reachable trie nodes, excluding the root anchor
	NumValues      int    // stored key/value pairs
	ValueBytes     uint64 // total size of all values
	MaxKeyLength   int
	MaxDepth       int // the longest path of nodes from the root
	NumDataNodes   int
	UsedBytes      uint64 // reserved bytes of the data region
	FreeBytes      uint64 // released bytes available for reuse
	NumFreeExtents int
}

func (s Statistics) String() string {
	return fmt.Sprintf(
		"nodes: %d, values: %d (%d bytes), max key length: %d, max depth: %d, data nodes: %d, used: %d bytes, free: %d bytes in %d extents",
		s.NumNodes, s.NumValues, s.ValueBytes, s.MaxKeyLength, s.MaxDepth, s.NumDataNodes, s.UsedBytes, s.FreeBytes, s.NumFreeExtents,
	)
}

// GetStatistics collects statistics on the current content of the state.
func (s *State) GetStatistics() (Statistics, error) {
	if err := s.ready(); err != nil {
		return Statistics{}, err
	}
	res := Statistics{
		NumDataNodes:   s.io.NumDataNodes(),
		UsedBytes:      s.io.UsedBytes(),
		FreeBytes:      s.free.FreeBytes(),
		NumFreeExtents: s.free.Len(),
	}
	err := s.trie.walk(func(n *node, prefix []byte, depth int) error {
		res.NumNodes++
		res.MaxDepth = max(res.MaxDepth, depth)
		if n.child.kind != valueChild {
			return nil
		}
		info, _, err := s.trie.readValueInfo(n.child.offset)
		if err != nil {
			return err
		}
		res.NumValues++
		res.ValueBytes += info.length
		res.MaxKeyLength = max(res.MaxKeyLength, len(prefix))
		return nil
	})
	if err != nil {
		return Statistics{}, err
	}
	return res, nil
}
