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
	"fmt"
	"math"

	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/blockstore"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/compress"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/dataio"
)

const (
	// DefaultMaxKeySize is the default limit for the length of keys.
	DefaultMaxKeySize = 1 << 20
	// maxSiblingsPerDepth is the maximum number of nodes in a next chain: one
	// for each possible first byte plus the end-of-string node.
	maxSiblingsPerDepth = 257
)

// Config defines the options of a trie state. Instances are usually derived
// from one of the named presets below.
type Config struct {
	// A descriptive name for this configuration. It has no effect except for
	// logging and debugging purposes.
	Name string

	// The size of the blocks of the underlying block store. It is fixed
	// when a state is created.
	BlockSize int

	// The number of data nodes kept in memory.
	NodeCacheSize int

	// Keys longer than this are rejected.
	MaxKeySize int

	// The maximum number of nodes on the path of a single operation. If
	// zero, a bound derived from MaxKeySize is used.
	MaxTraversalDepth int

	// The compression of blocks in backends supporting it.
	Compression compress.Algorithm
}

var DefaultConfig = Config{
	Name:          "default",
	BlockSize:     8 * 1024,
	NodeCacheSize: 1024,
	MaxKeySize:    DefaultMaxKeySize,
	Compression:   compress.Snappy,
}

// SmallBlockConfig uses tiny blocks such that nodes and values frequently
// cross block boundaries.
var SmallBlockConfig = Config{
	Name:          "small",
	BlockSize:     256,
	NodeCacheSize: 64,
	MaxKeySize:    DefaultMaxKeySize,
	Compression:   compress.None,
}

var allConfigs = []Config{DefaultConfig, SmallBlockConfig}

// GetConfigByName attempts to locate a configuration with the given name.
func GetConfigByName(name string) (Config, bool) {
	for _, config := range allConfigs {
		if config.Name == name {
			return config, true
		}
	}
	return Config{}, false
}

// GetConfigNames lists the names of all known configurations.
func GetConfigNames() []string {
	res := make([]string, 0, len(allConfigs))
	for _, config := range allConfigs {
		res = append(res, config.Name)
	}
	return res
}

// Check verifies the consistency of the configuration.
func (c Config) Check() error {
	if err := blockstore.CheckBlockSize(c.BlockSize); err != nil {
		return err
	}
	if c.BlockSize < dataio.DataBeginIndex+NodeSize {
		return fmt.Errorf("%w: blocks of %d bytes can not hold a node", blockstore.ErrInvalidBlockSize, c.BlockSize)
	}
	if c.NodeCacheSize < 2 {
		return fmt.Errorf("%w: got %d", dataio.ErrInvalidCacheSize, c.NodeCacheSize)
	}
	if c.MaxKeySize < 0 {
		return fmt.Errorf("invalid maximum key size %d", c.MaxKeySize)
	}
	if c.MaxTraversalDepth < 0 {
		return fmt.Errorf("invalid maximum traversal depth %d", c.MaxTraversalDepth)
	}
	return nil
}

// traversalDepth is the effective bound on the number of nodes on a path.
func (c Config) traversalDepth() int {
	if c.MaxTraversalDepth > 0 {
		return c.MaxTraversalDepth
	}
	if c.MaxKeySize >= math.MaxInt/maxSiblingsPerDepth {
		return math.MaxInt
	}
	return (c.MaxKeySize + 1) * maxSiblingsPerDepth
}
