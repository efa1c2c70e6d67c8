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

	"go.uber.org/mock/gomock"
)

func newMockedStore(t *testing.T, numBlocks BlockNumber) (*Store, *MockBackend) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	backend.EXPECT().BlockSize().Return(testBlockSize).AnyTimes()
	backend.EXPECT().NumBlocks().Return(numBlocks).AnyTimes()
	backend.EXPECT().ReadMeta().Return([]byte("meta"), nil)
	store, err := NewStore(backend)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store, backend
}

func TestStore_RejectsInvalidBlockSizes(t *testing.T) {
	for _, size := range []int{0, 1, MinBlockSize - 1, MaxBlockSize + 1} {
		ctrl := gomock.NewController(t)
		backend := NewMockBackend(ctrl)
		backend.EXPECT().BlockSize().Return(size).AnyTimes()
		if _, err := NewStore(backend); !errors.Is(err, ErrInvalidBlockSize) {
			t.Errorf("block size %d should be rejected, got %v", size, err)
		}
	}
}

func TestStore_MetaReadFailureIsReported(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	injected := errors.New("injected")
	backend.EXPECT().BlockSize().Return(testBlockSize).AnyTimes()
	backend.EXPECT().ReadMeta().Return(nil, injected)
	if _, err := NewStore(backend); !errors.Is(err, injected) {
		t.Errorf("expected injected error, got %v", err)
	}
}

func TestStore_AppendedBlocksAreZeroAndBuffered(t *testing.T) {
	store, _ := newMockedStore(t, 0)

	n, err := store.AppendBlock()
	if err != nil || n != 0 {
		t.Fatalf("unexpected append result: %d, %v", n, err)
	}
	data, err := store.ReadBlock(n)
	if err != nil {
		t.Fatalf("failed to read block: %v", err)
	}
	if !bytes.Equal(data, make([]byte, testBlockSize)) {
		t.Errorf("appended block is not zero initialized")
	}
	if got, want := store.NumBlocks(), BlockNumber(1); got != want {
		t.Errorf("unexpected number of blocks, got %d, wanted %d", got, want)
	}
	if !store.HasPendingChanges() {
		t.Errorf("append should be pending")
	}
}

func TestStore_CommittedBlocksAreReadFromBackend(t *testing.T) {
	store, backend := newMockedStore(t, 2)
	backend.EXPECT().ReadBlock(BlockNumber(1), gomock.Any()).DoAndReturn(func(_ BlockNumber, trg []byte) error {
		trg[0] = 42
		return nil
	})
	data, err := store.ReadBlock(1)
	if err != nil || data[0] != 42 {
		t.Errorf("unexpected read result: %v, %v", data[:1], err)
	}
}

func TestStore_BackendReadErrorsArePropagated(t *testing.T) {
	store, backend := newMockedStore(t, 1)
	injected := errors.New("injected")
	backend.EXPECT().ReadBlock(BlockNumber(0), gomock.Any()).Return(injected)
	if _, err := store.ReadBlock(0); !errors.Is(err, injected) {
		t.Errorf("expected injected error, got %v", err)
	}
}

func TestStore_WrittenBlocksAreCopied(t *testing.T) {
	store, _ := newMockedStore(t, 1)
	data := bytes.Repeat([]byte{1}, testBlockSize)
	if err := store.WriteBlock(0, data); err != nil {
		t.Fatalf("failed to write block: %v", err)
	}
	data[0] = 2
	got, err := store.ReadBlock(0)
	if err != nil {
		t.Fatalf("failed to read block: %v", err)
	}
	if got[0] != 1 {
		t.Errorf("store content aliased by caller")
	}
	got[1] = 3
	if again, _ := store.ReadBlock(0); again[1] != 1 {
		t.Errorf("read result aliases store content")
	}
}

func TestStore_InvalidAccessesAreRejected(t *testing.T) {
	store, _ := newMockedStore(t, 1)
	if _, err := store.ReadBlock(1); !errors.Is(err, ErrNoSuchBlock) {
		t.Errorf("unexpected error: %v", err)
	}
	if err := store.WriteBlock(1, make([]byte, testBlockSize)); !errors.Is(err, ErrNoSuchBlock) {
		t.Errorf("unexpected error: %v", err)
	}
	if err := store.WriteBlock(0, make([]byte, testBlockSize+1)); !errors.Is(err, ErrBlockSizeMismatch) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStore_SyncAppliesPendingChanges(t *testing.T) {
	store, backend := newMockedStore(t, 1)
	if err := store.WriteBlock(0, bytes.Repeat([]byte{1}, testBlockSize)); err != nil {
		t.Fatalf("failed to write block: %v", err)
	}
	if _, err := store.AppendBlock(); err != nil {
		t.Fatalf("failed to append block: %v", err)
	}
	store.SetMeta([]byte("new"))

	backend.EXPECT().Apply(gomock.Any()).DoAndReturn(func(update *Update) error {
		if update.NumBlocks != 2 {
			t.Errorf("unexpected number of blocks: %d", update.NumBlocks)
		}
		if got := update.SortedBlockNumbers(); len(got) != 2 || got[0] != 0 || got[1] != 1 {
			t.Errorf("unexpected blocks in update: %v", got)
		}
		if string(update.Meta) != "new" {
			t.Errorf("unexpected meta: %v", update.Meta)
		}
		return nil
	})
	if err := store.Sync(); err != nil {
		t.Fatalf("failed to sync: %v", err)
	}
	if store.HasPendingChanges() {
		t.Errorf("no changes should be pending after sync")
	}

	// A second sync without changes does not reach the backend.
	if err := store.Sync(); err != nil {
		t.Fatalf("failed to sync: %v", err)
	}
}

func TestStore_UnchangedMetaIsNotPartOfUpdate(t *testing.T) {
	store, backend := newMockedStore(t, 0)
	if _, err := store.AppendBlock(); err != nil {
		t.Fatalf("failed to append block: %v", err)
	}
	backend.EXPECT().Apply(gomock.Any()).DoAndReturn(func(update *Update) error {
		if update.Meta != nil {
			t.Errorf("meta should not be part of the update")
		}
		return nil
	})
	if err := store.Sync(); err != nil {
		t.Fatalf("failed to sync: %v", err)
	}
}

func TestStore_FailedSyncRetainsChangesUntilDiscarded(t *testing.T) {
	store, backend := newMockedStore(t, 1)
	if _, err := store.AppendBlock(); err != nil {
		t.Fatalf("failed to append block: %v", err)
	}
	store.SetMeta([]byte("new"))

	injected := errors.New("injected")
	backend.EXPECT().Apply(gomock.Any()).Return(injected)
	if err := store.Sync(); !errors.Is(err, injected) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if !store.HasPendingChanges() {
		t.Errorf("changes should be retained after failed sync")
	}

	store.Discard()
	if store.HasPendingChanges() {
		t.Errorf("changes should be dropped")
	}
	if got, want := store.NumBlocks(), BlockNumber(1); got != want {
		t.Errorf("unexpected number of blocks, got %d, wanted %d", got, want)
	}
	if got := string(store.Meta()); got != "meta" {
		t.Errorf("meta not restored, got %q", got)
	}
}

func TestStore_CloseDiscardsAndClosesBackend(t *testing.T) {
	store, backend := newMockedStore(t, 0)
	if _, err := store.AppendBlock(); err != nil {
		t.Fatalf("failed to append block: %v", err)
	}
	backend.EXPECT().Close().Return(nil)
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
	if store.HasPendingChanges() {
		t.Errorf("pending changes should be dropped on close")
	}
}

func TestUpdate_IsEmpty(t *testing.T) {
	if !(&Update{NumBlocks: 3}).IsEmpty(3) {
		t.Errorf("update without changes should be empty")
	}
	if (&Update{NumBlocks: 4}).IsEmpty(3) {
		t.Errorf("update adding blocks is not empty")
	}
	if (&Update{NumBlocks: 3, Meta: []byte{}}).IsEmpty(3) {
		t.Errorf("update setting meta data is not empty")
	}
}
