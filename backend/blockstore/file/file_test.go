// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package file

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/blockstore"
	"github.com/stretchr/testify/require"
)

const blockSize = 128

func TestFileBackend(t *testing.T) {
	blockstore.RunBackendTests(t, blockstore.NamedBackendFactory{
		ImplementationName: "file",
		Persistent:         true,
		Open: func(t *testing.T, directory string, blockSize int) (blockstore.Backend, error) {
			return OpenBackend(directory, blockSize)
		},
	})
}

func block(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, blockSize)
}

func readBlock(t *testing.T, b blockstore.Backend, n blockstore.BlockNumber) []byte {
	t.Helper()
	res := make([]byte, blockSize)
	require.NoError(t, b.ReadBlock(n, res))
	return res
}

func TestFileBackend_StoreIdIsStable(t *testing.T) {
	dir := t.TempDir()
	b, err := openBackend(dir, blockSize)
	require.NoError(t, err)
	id := b.meta.StoreID
	require.NoError(t, b.Close())

	b, err = openBackend(dir, blockSize)
	require.NoError(t, err)
	defer b.Close()
	require.Equal(t, id, b.meta.StoreID)
}

func TestFileBackend_CrashBeforeCommitPointLosesUpdate(t *testing.T) {
	dir := t.TempDir()
	b, err := openBackend(dir, blockSize)
	require.NoError(t, err)
	require.NoError(t, b.Apply(&blockstore.Update{NumBlocks: 1, Blocks: map[blockstore.BlockNumber][]byte{0: block(1)}}))

	// Simulate a crash after preparing the journal.
	update := &blockstore.Update{NumBlocks: 2, Blocks: map[blockstore.BlockNumber][]byte{0: block(2), 1: block(3)}}
	require.NoError(t, b.prepareJournal(update))
	require.NoError(t, b.blocks.Close())

	b, err = openBackend(dir, blockSize)
	require.NoError(t, err)
	defer b.Close()
	require.Equal(t, blockstore.BlockNumber(1), b.NumBlocks())
	require.Equal(t, block(1), readBlock(t, b, 0))
	_, err = os.Stat(filepath.Join(dir, preparedJournalName))
	require.True(t, os.IsNotExist(err), "prepared journal should be removed")
}

func TestFileBackend_CrashAfterCommitPointIsCompletedOnOpen(t *testing.T) {
	dir := t.TempDir()
	b, err := openBackend(dir, blockSize)
	require.NoError(t, err)
	require.NoError(t, b.Apply(&blockstore.Update{NumBlocks: 1, Blocks: map[blockstore.BlockNumber][]byte{0: block(1)}}))

	// Simulate a crash after committing the journal, before applying it.
	update := &blockstore.Update{
		NumBlocks: 2,
		Blocks:    map[blockstore.BlockNumber][]byte{0: block(2), 1: block(3)},
		Meta:      []byte("after"),
	}
	require.NoError(t, b.prepareJournal(update))
	require.NoError(t, b.commitJournal())
	require.NoError(t, b.blocks.Close())

	b, err = openBackend(dir, blockSize)
	require.NoError(t, err)
	defer b.Close()
	require.Equal(t, blockstore.BlockNumber(2), b.NumBlocks())
	require.Equal(t, block(2), readBlock(t, b, 0))
	require.Equal(t, block(3), readBlock(t, b, 1))
	meta, err := b.ReadMeta()
	require.NoError(t, err)
	require.Equal(t, []byte("after"), meta)
	_, err = os.Stat(filepath.Join(dir, committedJournalName))
	require.True(t, os.IsNotExist(err), "committed journal should be removed")
}

func TestFileBackend_FailureAfterCommitPointRequiresReopen(t *testing.T) {
	dir := t.TempDir()
	b, err := openBackend(dir, blockSize)
	require.NoError(t, err)
	require.NoError(t, b.Apply(&blockstore.Update{NumBlocks: 1, Blocks: map[blockstore.BlockNumber][]byte{0: block(1)}, Meta: []byte("m1")}))

	// A directory in place of the temporary meta data file makes the
	// update fail after its journal has been committed.
	tmp := filepath.Join(dir, temporaryMetaFileName)
	require.NoError(t, os.Mkdir(tmp, 0700))
	err = b.Apply(&blockstore.Update{NumBlocks: 1, Blocks: map[blockstore.BlockNumber][]byte{0: block(2)}, Meta: []byte("m2")})
	require.True(t, errors.Is(err, ErrMustReopen), "unexpected error: %v", err)
	require.NoError(t, os.Remove(tmp))

	// The backend refuses to expose its partially applied content.
	err = b.ReadBlock(0, make([]byte, blockSize))
	require.True(t, errors.Is(err, ErrMustReopen), "unexpected error: %v", err)
	_, err = b.ReadMeta()
	require.True(t, errors.Is(err, ErrMustReopen), "unexpected error: %v", err)
	err = b.Apply(&blockstore.Update{NumBlocks: 1, Blocks: map[blockstore.BlockNumber][]byte{}, Meta: []byte("m3")})
	require.True(t, errors.Is(err, ErrMustReopen), "unexpected error: %v", err)
	require.NoError(t, b.Close())

	// Reopening completes the committed update as a whole.
	b, err = openBackend(dir, blockSize)
	require.NoError(t, err)
	defer b.Close()
	require.Equal(t, block(2), readBlock(t, b, 0))
	meta, err := b.ReadMeta()
	require.NoError(t, err)
	require.Equal(t, []byte("m2"), meta)
	_, err = os.Stat(filepath.Join(dir, committedJournalName))
	require.True(t, os.IsNotExist(err), "committed journal should be removed")
}

func TestFileBackend_CorruptedCommittedJournalIsDetected(t *testing.T) {
	dir := t.TempDir()
	b, err := openBackend(dir, blockSize)
	require.NoError(t, err)
	require.NoError(t, b.prepareJournal(&blockstore.Update{NumBlocks: 1, Blocks: map[blockstore.BlockNumber][]byte{0: block(1)}}))
	require.NoError(t, b.commitJournal())
	require.NoError(t, b.blocks.Close())

	path := filepath.Join(dir, committedJournalName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[10] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0600))

	_, err = openBackend(dir, blockSize)
	require.True(t, errors.Is(err, ErrCorruptJournal), "unexpected error: %v", err)
}

func TestFileBackend_InvalidMetadataIsDetected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, metaFileName), []byte("{not json"), 0600))
	_, err := OpenBackend(dir, blockSize)
	require.True(t, errors.Is(err, ErrInvalidDirectory), "unexpected error: %v", err)
}

func TestFileBackend_TruncatedBlockFileIsDetected(t *testing.T) {
	dir := t.TempDir()
	b, err := OpenBackend(dir, blockSize)
	require.NoError(t, err)
	require.NoError(t, b.Apply(&blockstore.Update{NumBlocks: 2, Blocks: map[blockstore.BlockNumber][]byte{0: block(1), 1: block(2)}}))
	require.NoError(t, b.Close())

	require.NoError(t, os.Truncate(filepath.Join(dir, blocksFileName), blockSize))
	_, err = OpenBackend(dir, blockSize)
	require.True(t, errors.Is(err, ErrInvalidDirectory), "unexpected error: %v", err)
}

func TestJournal_EncodingRoundTrip(t *testing.T) {
	updates := []*blockstore.Update{
		{NumBlocks: 0, Blocks: map[blockstore.BlockNumber][]byte{}},
		{NumBlocks: 3, Blocks: map[blockstore.BlockNumber][]byte{2: block(1), 0: block(2)}, Meta: []byte{}},
		{NumBlocks: 1, Blocks: map[blockstore.BlockNumber][]byte{0: block(7)}, Meta: []byte("meta")},
	}
	for _, update := range updates {
		restored, err := decodeJournal(encodeJournal(update), blockSize)
		require.NoError(t, err)
		require.Equal(t, update.NumBlocks, restored.NumBlocks)
		require.Equal(t, update.Meta, restored.Meta)
		require.Equal(t, len(update.Blocks), len(restored.Blocks))
		for n, data := range update.Blocks {
			require.Equal(t, data, restored.Blocks[n])
		}
	}
}

func TestJournal_TruncatedJournalIsRejected(t *testing.T) {
	data := encodeJournal(&blockstore.Update{NumBlocks: 1, Blocks: map[blockstore.BlockNumber][]byte{0: block(7)}})
	for _, size := range []int{0, 10, len(data) - 1} {
		_, err := decodeJournal(data[:size], blockSize)
		require.True(t, errors.Is(err, ErrCorruptJournal), "size %d: unexpected error %v", size, err)
	}
	_, err := decodeJournal(data, 2*blockSize)
	require.True(t, errors.Is(err, ErrCorruptJournal))
}
