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
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// NamedBackendFactory describes a backend implementation to be covered by
// the compliance tests of RunBackendTests.
type NamedBackendFactory struct {
	ImplementationName string
	// Persistent backends are expected to retain their content when being
	// re-opened on the same directory.
	Persistent bool
	Open       func(t *testing.T, directory string, blockSize int) (Backend, error)
}

const testBlockSize = 256

// RunBackendTests runs a set of black-box unit tests against a Backend
// implementation defined by the given factory. It is intended to be used
// in implementation specific unit test packages to cover basic compliance
// properties as imposed by the Backend interface.
func RunBackendTests(t *testing.T, factory NamedBackendFactory) {
	wrap := func(test func(*testing.T, NamedBackendFactory)) func(*testing.T) {
		return func(t *testing.T) {
			t.Parallel()
			test(t, factory)
		}
	}
	t.Run("NewBackendIsEmpty", wrap(testNewBackendIsEmpty))
	t.Run("AppliedBlocksCanBeRead", wrap(testAppliedBlocksCanBeRead))
	t.Run("BlocksCanBeOverwritten", wrap(testBlocksCanBeOverwritten))
	t.Run("MetaIsRetainedIfNotUpdated", wrap(testMetaIsRetainedIfNotUpdated))
	t.Run("InvalidUpdatesAreRejected", wrap(testInvalidUpdatesAreRejected))
	t.Run("ReadingMissingBlocksFails", wrap(testReadingMissingBlocksFails))
	t.Run("ReadingIntoWrongSizedBufferFails", wrap(testReadingIntoWrongSizedBufferFails))
	t.Run("StoreSyncReachesBackend", wrap(testStoreSyncReachesBackend))
	t.Run("ProvidesMemoryFootprint", wrap(testProvidesMemoryFootprint))
	t.Run("CanBeFlushedAndClosed", wrap(testCanBeFlushedAndClosed))
	if factory.Persistent {
		t.Run("CanBeClosedAndReopened", wrap(testCanBeClosedAndReopened))
		t.Run("ReopeningWithOtherBlockSizeFails", wrap(testReopeningWithOtherBlockSizeFails))
	}
}

func makeBlock(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, testBlockSize)
}

func openBackend(t *testing.T, factory NamedBackendFactory, dir string) Backend {
	t.Helper()
	backend, err := factory.Open(t, dir, testBlockSize)
	require.NoError(t, err, "failed to open %s backend", factory.ImplementationName)
	return backend
}

func requireBlock(t *testing.T, backend Backend, n BlockNumber, want []byte) {
	t.Helper()
	got := make([]byte, testBlockSize)
	require.NoError(t, backend.ReadBlock(n, got))
	require.True(t, bytes.Equal(want, got), "unexpected content of block %d", n)
}

func testNewBackendIsEmpty(t *testing.T, factory NamedBackendFactory) {
	backend := openBackend(t, factory, t.TempDir())
	defer backend.Close()
	require.Equal(t, testBlockSize, backend.BlockSize())
	require.Equal(t, BlockNumber(0), backend.NumBlocks())
	meta, err := backend.ReadMeta()
	require.NoError(t, err)
	require.Empty(t, meta)
}

func testAppliedBlocksCanBeRead(t *testing.T, factory NamedBackendFactory) {
	backend := openBackend(t, factory, t.TempDir())
	defer backend.Close()

	require.NoError(t, backend.Apply(&Update{
		NumBlocks: 3,
		Blocks:    map[BlockNumber][]byte{0: makeBlock(1), 1: makeBlock(2), 2: makeBlock(3)},
		Meta:      []byte("meta"),
	}))
	require.Equal(t, BlockNumber(3), backend.NumBlocks())
	for i := 0; i < 3; i++ {
		requireBlock(t, backend, BlockNumber(i), makeBlock(byte(i+1)))
	}
	meta, err := backend.ReadMeta()
	require.NoError(t, err)
	require.Equal(t, []byte("meta"), meta)
}

func testBlocksCanBeOverwritten(t *testing.T, factory NamedBackendFactory) {
	backend := openBackend(t, factory, t.TempDir())
	defer backend.Close()

	require.NoError(t, backend.Apply(&Update{
		NumBlocks: 2,
		Blocks:    map[BlockNumber][]byte{0: makeBlock(1), 1: makeBlock(2)},
	}))
	require.NoError(t, backend.Apply(&Update{
		NumBlocks: 3,
		Blocks:    map[BlockNumber][]byte{1: makeBlock(7), 2: makeBlock(8)},
	}))
	requireBlock(t, backend, 0, makeBlock(1))
	requireBlock(t, backend, 1, makeBlock(7))
	requireBlock(t, backend, 2, makeBlock(8))
}

func testMetaIsRetainedIfNotUpdated(t *testing.T, factory NamedBackendFactory) {
	backend := openBackend(t, factory, t.TempDir())
	defer backend.Close()

	require.NoError(t, backend.Apply(&Update{NumBlocks: 1, Blocks: map[BlockNumber][]byte{0: makeBlock(1)}, Meta: []byte{1, 2}}))
	require.NoError(t, backend.Apply(&Update{NumBlocks: 1, Blocks: map[BlockNumber][]byte{0: makeBlock(2)}}))
	meta, err := backend.ReadMeta()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, meta)
}

func testInvalidUpdatesAreRejected(t *testing.T, factory NamedBackendFactory) {
	backend := openBackend(t, factory, t.TempDir())
	defer backend.Close()

	require.NoError(t, backend.Apply(&Update{NumBlocks: 1, Blocks: map[BlockNumber][]byte{0: makeBlock(1)}}))

	invalid := []*Update{
		{NumBlocks: 0},
		{NumBlocks: 3, Blocks: map[BlockNumber][]byte{1: makeBlock(1)}},
		{NumBlocks: 2, Blocks: map[BlockNumber][]byte{1: makeBlock(1)[1:]}},
		{NumBlocks: 2, Blocks: map[BlockNumber][]byte{1: makeBlock(1), 5: makeBlock(1)}},
	}
	for i, update := range invalid {
		err := backend.Apply(update)
		require.True(t, errors.Is(err, ErrInvalidUpdate), "update %d: unexpected error %v", i, err)
	}
	require.Equal(t, BlockNumber(1), backend.NumBlocks())
	requireBlock(t, backend, 0, makeBlock(1))
}

func testReadingMissingBlocksFails(t *testing.T, factory NamedBackendFactory) {
	backend := openBackend(t, factory, t.TempDir())
	defer backend.Close()

	err := backend.ReadBlock(0, make([]byte, testBlockSize))
	require.True(t, errors.Is(err, ErrNoSuchBlock), "unexpected error: %v", err)
}

func testReadingIntoWrongSizedBufferFails(t *testing.T, factory NamedBackendFactory) {
	backend := openBackend(t, factory, t.TempDir())
	defer backend.Close()

	require.NoError(t, backend.Apply(&Update{NumBlocks: 1, Blocks: map[BlockNumber][]byte{0: makeBlock(1)}}))
	err := backend.ReadBlock(0, make([]byte, testBlockSize-1))
	require.True(t, errors.Is(err, ErrBlockSizeMismatch), "unexpected error: %v", err)
}

func testStoreSyncReachesBackend(t *testing.T, factory NamedBackendFactory) {
	backend := openBackend(t, factory, t.TempDir())
	store, err := NewStore(backend)
	require.NoError(t, err)
	defer store.Close()

	n, err := store.AppendBlock()
	require.NoError(t, err)
	require.NoError(t, store.WriteBlock(n, makeBlock(5)))
	store.SetMeta([]byte("abc"))
	require.Equal(t, BlockNumber(0), backend.NumBlocks(), "pending changes must not reach the backend")

	require.NoError(t, store.Sync())
	require.Equal(t, BlockNumber(1), backend.NumBlocks())
	requireBlock(t, backend, n, makeBlock(5))
	meta, err := backend.ReadMeta()
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), meta)
}

func testProvidesMemoryFootprint(t *testing.T, factory NamedBackendFactory) {
	backend := openBackend(t, factory, t.TempDir())
	defer backend.Close()
	require.NotNil(t, backend.GetMemoryFootprint())
}

func testCanBeFlushedAndClosed(t *testing.T, factory NamedBackendFactory) {
	backend := openBackend(t, factory, t.TempDir())
	require.NoError(t, backend.Apply(&Update{NumBlocks: 1, Blocks: map[BlockNumber][]byte{0: makeBlock(1)}}))
	require.NoError(t, backend.Flush())
	require.NoError(t, backend.Close())
}

func testCanBeClosedAndReopened(t *testing.T, factory NamedBackendFactory) {
	dir := t.TempDir()
	backend := openBackend(t, factory, dir)
	require.NoError(t, backend.Apply(&Update{
		NumBlocks: 2,
		Blocks:    map[BlockNumber][]byte{0: makeBlock(1), 1: makeBlock(2)},
		Meta:      []byte("meta"),
	}))
	require.NoError(t, backend.Close())

	backend = openBackend(t, factory, dir)
	defer backend.Close()
	require.Equal(t, BlockNumber(2), backend.NumBlocks())
	requireBlock(t, backend, 0, makeBlock(1))
	requireBlock(t, backend, 1, makeBlock(2))
	meta, err := backend.ReadMeta()
	require.NoError(t, err)
	require.Equal(t, []byte("meta"), meta)
}

func testReopeningWithOtherBlockSizeFails(t *testing.T, factory NamedBackendFactory) {
	dir := t.TempDir()
	backend := openBackend(t, factory, dir)
	require.NoError(t, backend.Apply(&Update{NumBlocks: 1, Blocks: map[BlockNumber][]byte{0: makeBlock(1)}}))
	require.NoError(t, backend.Close())

	_, err := factory.Open(t, dir, 2*testBlockSize)
	require.True(t, errors.Is(err, ErrBlockSizeMismatch), "unexpected error: %v", err)
}
