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
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/dataio"
)

func newTestState(t *testing.T, config Config) *State {
	t.Helper()
	state, err := OpenInMemory(config)
	if err != nil {
		t.Fatalf("failed to open state: %v", err)
	}
	t.Cleanup(func() {
		state.Close()
	})
	return state
}

func forEachConfig(t *testing.T, test func(t *testing.T, config Config)) {
	for _, config := range allConfigs {
		config := config
		t.Run(config.Name, func(t *testing.T) {
			test(t, config)
		})
	}
}

func put(t *testing.T, state *State, key, value string) {
	t.Helper()
	if err := state.Put([]byte(key), []byte(value)); err != nil {
		t.Fatalf("failed to put %q: %v", key, err)
	}
}

func get(t *testing.T, state *State, key string) (string, bool) {
	t.Helper()
	value, found, err := state.Get([]byte(key))
	if err != nil {
		t.Fatalf("failed to get %q: %v", key, err)
	}
	return string(value), found
}

func del(t *testing.T, state *State, key string) bool {
	t.Helper()
	found, err := state.Delete([]byte(key))
	if err != nil {
		t.Fatalf("failed to delete %q: %v", key, err)
	}
	return found
}

func expectValue(t *testing.T, state *State, key, want string) {
	t.Helper()
	got, found := get(t, state, key)
	if !found {
		t.Fatalf("key %q not found", key)
	}
	if got != want {
		t.Errorf("unexpected value for %q, wanted %q, got %q", key, want, got)
	}
}

func expectMissing(t *testing.T, state *State, key string) {
	t.Helper()
	if got, found := get(t, state, key); found {
		t.Errorf("key %q should not be present, got value %q", key, got)
	}
}

func expectValid(t *testing.T, state *State) {
	t.Helper()
	if err := state.Check(); err != nil {
		t.Fatalf("state is inconsistent: %v", err)
	}
}

func TestTrie_EmptyTrieContainsNothing(t *testing.T) {
	forEachConfig(t, func(t *testing.T, config Config) {
		state := newTestState(t, config)
		for _, key := range []string{"", "a", "abc", "some longer key exceeding a chunk"} {
			expectMissing(t, state, key)
			if del(t, state, key) {
				t.Errorf("deleting %q from an empty trie should report a missing key", key)
			}
		}
		if state.HasPendingChanges() {
			t.Errorf("reads and deletes of missing keys should not modify the trie")
		}
		expectValid(t, state)
	})
}

func TestTrie_RootAnchorIsIdempotent(t *testing.T) {
	state := newTestState(t, DefaultConfig)
	before, err := state.io.ReadRange(rootLocation, NodeSize)
	if err != nil {
		t.Fatalf("failed to read root: %v", err)
	}
	used := state.io.UsedBytes()

	if err := state.trie.initRoot(); err != nil {
		t.Fatalf("failed to re-initialize root: %v", err)
	}
	after, err := state.io.ReadRange(rootLocation, NodeSize)
	if err != nil {
		t.Fatalf("failed to read root: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Errorf("root anchor changed\nbefore %x\nafter  %x", before, after)
	}
	if used != state.io.UsedBytes() {
		t.Errorf("re-initialization allocated space")
	}

	put(t, state, "key", "value")
	if err := state.trie.initRoot(); !errors.Is(err, ErrTrieNotEmpty) {
		t.Errorf("unexpected error re-initializing a non-empty trie: %v", err)
	}
}

func TestTrie_RoundTrip(t *testing.T) {
	forEachConfig(t, func(t *testing.T, config Config) {
		state := newTestState(t, config)
		entries := map[string]string{
			"":  "empty key",
			"a": "1",
			"b": "",
			"a longer key exceeding the maximum chunk size of a node": "2",
			"\x00\x01\x02": "binary",
			"z":            string(bytes.Repeat([]byte{0xAB}, 3*config.BlockSize)),
		}
		for key, value := range entries {
			put(t, state, key, value)
		}
		for key, value := range entries {
			expectValue(t, state, key, value)
		}
		expectValid(t, state)
	})
}

func TestTrie_PutReportsWhetherKeyExisted(t *testing.T) {
	state := newTestState(t, DefaultConfig)
	if _, existed, err := state.Operate(Put, []byte("k"), []byte("1")); err != nil || existed {
		t.Errorf("first put should report a new key, got %t, %v", existed, err)
	}
	if _, existed, err := state.Operate(Put, []byte("k"), []byte("2")); err != nil || !existed {
		t.Errorf("second put should report an existing key, got %t, %v", existed, err)
	}
}

func TestTrie_OverwriteReleasesOldValue(t *testing.T) {
	state := newTestState(t, DefaultConfig)
	v1 := string(bytes.Repeat([]byte{1}, 100))
	v2 := string(bytes.Repeat([]byte{2}, 200))
	v3 := string(bytes.Repeat([]byte{3}, 50))

	put(t, state, "key", v1)
	if got := state.free.FreeBytes(); got != 0 {
		t.Fatalf("unexpected free bytes after first put: %d", got)
	}

	put(t, state, "key", v2)
	expectValue(t, state, "key", v2)
	if got, want := state.free.FreeBytes(), ValueRecordSize(len(v1)); got != want {
		t.Errorf("old value not released, free bytes %d, wanted %d", got, want)
	}

	// the released space of v1 is reused for v3
	used := state.io.UsedBytes()
	put(t, state, "key", v3)
	expectValue(t, state, "key", v3)
	if used != state.io.UsedBytes() {
		t.Errorf("overwrite with smaller value should reuse released space")
	}
	want := ValueRecordSize(len(v1)) + ValueRecordSize(len(v2)) - ValueRecordSize(len(v3))
	if got := state.free.FreeBytes(); got != want {
		t.Errorf("unexpected free bytes %d, wanted %d", got, want)
	}
	expectValid(t, state)
}

func TestTrie_DeleteRemovesKey(t *testing.T) {
	forEachConfig(t, func(t *testing.T, config Config) {
		state := newTestState(t, config)
		put(t, state, "key", "value")
		if !del(t, state, "key") {
			t.Errorf("deleting an existing key should report it as found")
		}
		expectMissing(t, state, "key")
		expectValid(t, state)

		if err := state.Commit(); err != nil {
			t.Fatalf("failed to commit: %v", err)
		}
		if del(t, state, "key") {
			t.Errorf("repeated delete should report a missing key")
		}
		if state.HasPendingChanges() {
			t.Errorf("repeated delete should not modify the trie")
		}
	})
}

func TestTrie_PrefixIndependence(t *testing.T) {
	keys := []string{"ab", "abc", "abd", "a", "abcdefghijklmnopqrstuvwxyz", "abcdefghijklmnopq", "b"}
	forEachConfig(t, func(t *testing.T, config Config) {
		for _, removed := range keys {
			t.Run(fmt.Sprintf("delete %q", removed), func(t *testing.T) {
				state := newTestState(t, config)
				for _, key := range keys {
					put(t, state, key, "value of "+key)
				}
				if !del(t, state, removed) {
					t.Fatalf("key %q not found for deletion", removed)
				}
				expectMissing(t, state, removed)
				for _, key := range keys {
					if key != removed {
						expectValue(t, state, key, "value of "+key)
					}
				}
				expectValid(t, state)
			})
		}
	})
}

func TestTrie_SplitProducesDistinctEntries(t *testing.T) {
	state := newTestState(t, DefaultConfig)
	put(t, state, "abc", "1")
	put(t, state, "abx", "2")
	expectValue(t, state, "abc", "1")
	expectValue(t, state, "abx", "2")
	expectMissing(t, state, "ab")
	expectMissing(t, state, "abcx")

	stats, err := state.GetStatistics()
	if err != nil {
		t.Fatalf("failed to get statistics: %v", err)
	}
	// "ab" -> "c" -> end, "c" -next-> "x" -> end
	if stats.NumNodes != 5 || stats.NumValues != 2 || stats.MaxDepth != 4 {
		t.Errorf("unexpected trie shape: %v", stats)
	}
	expectValid(t, state)
}

func TestTrie_KeyEndingInsideChunkIsInsertedAsSibling(t *testing.T) {
	state := newTestState(t, DefaultConfig)
	put(t, state, "abcdef", "long")
	put(t, state, "abc", "short")
	expectValue(t, state, "abcdef", "long")
	expectValue(t, state, "abc", "short")
	expectValid(t, state)
}

func TestTrie_DeletingAllKeysRemovesAllNodes(t *testing.T) {
	keys := []string{"ab", "abc", "abd", "abx", "b", "ba", "", "0123456789abcdefghij"}
	forEachConfig(t, func(t *testing.T, config Config) {
		state := newTestState(t, config)
		for _, key := range keys {
			put(t, state, key, key)
		}
		for _, key := range keys {
			if !del(t, state, key) {
				t.Fatalf("key %q not found for deletion", key)
			}
			expectValid(t, state)
		}

		root, err := state.trie.readLiveNode(rootLocation)
		if err != nil {
			t.Fatalf("failed to read root: %v", err)
		}
		if !root.next.IsEmpty() {
			t.Errorf("root still references nodes: %v", root)
		}
		stats, err := state.GetStatistics()
		if err != nil {
			t.Fatalf("failed to get statistics: %v", err)
		}
		if stats.NumNodes != 0 {
			t.Errorf("nodes remain after deleting all keys: %v", stats)
		}
		if got, want := state.free.FreeBytes(), state.io.UsedBytes()-NodeSize; got != want {
			t.Errorf("not all space released, free %d, wanted %d", got, want)
		}
	})
}

func TestTrie_DeletingBranchRemovesChildlessNodes(t *testing.T) {
	state := newTestState(t, DefaultConfig)
	put(t, state, "abc", "1")
	put(t, state, "abd", "2")
	put(t, state, "x", "3")

	del(t, state, "abc")
	del(t, state, "abd")
	expectValue(t, state, "x", "3")

	stats, err := state.GetStatistics()
	if err != nil {
		t.Fatalf("failed to get statistics: %v", err)
	}
	// only "x" and its terminal node remain
	if stats.NumNodes != 2 {
		t.Errorf("childless nodes remain reachable: %v", stats)
	}
	expectValid(t, state)
}

func TestTrie_ReleasedSpaceIsReused(t *testing.T) {
	state := newTestState(t, DefaultConfig)
	for i := 0; i < 100; i++ {
		put(t, state, fmt.Sprintf("key-%d", i), "value")
	}
	used := state.io.UsedBytes()
	for round := 0; round < 10; round++ {
		for i := 0; i < 100; i++ {
			del(t, state, fmt.Sprintf("key-%d", i))
		}
		for i := 0; i < 100; i++ {
			put(t, state, fmt.Sprintf("key-%d", i), "value")
		}
	}
	if got := state.io.UsedBytes(); got > used*3 {
		t.Errorf("released space is not reused, region grew from %d to %d bytes", used, got)
	}
	expectValid(t, state)
}

func TestTrie_ValuesSpanningBlocks(t *testing.T) {
	state := newTestState(t, SmallBlockConfig)
	values := map[string][]byte{}
	for i := 0; i < 20; i++ {
		value := make([]byte, i*97)
		for j := range value {
			value[j] = byte(i + j)
		}
		key := fmt.Sprintf("key-%d", i)
		values[key] = value
		if err := state.Put([]byte(key), value); err != nil {
			t.Fatalf("failed to put: %v", err)
		}
	}
	for key, want := range values {
		got, found, err := state.Get([]byte(key))
		if err != nil || !found || !bytes.Equal(got, want) {
			t.Errorf("unexpected value for %s: found %t, err %v", key, found, err)
		}
	}
	if state.io.NumDataNodes() < 2 {
		t.Errorf("values should span multiple blocks")
	}
	expectValid(t, state)
}

func TestTrie_KeysExceedingTheLimitAreRejected(t *testing.T) {
	config := DefaultConfig
	config.MaxKeySize = 8
	state := newTestState(t, config)
	if err := state.Put([]byte("123456789"), []byte("x")); !errors.Is(err, ErrKeyTooLong) {
		t.Errorf("unexpected error: %v", err)
	}
	if _, _, err := state.Get([]byte("123456789")); !errors.Is(err, ErrKeyTooLong) {
		t.Errorf("unexpected error: %v", err)
	}
	// rejected keys do not require an abort
	put(t, state, "12345678", "x")
	expectValue(t, state, "12345678", "x")
}

func TestTrie_InvalidOperationIsRejected(t *testing.T) {
	state := newTestState(t, DefaultConfig)
	for _, op := range []Operation{0, Delete + 1, -1} {
		if _, _, err := state.Operate(op, []byte("key"), nil); !errors.Is(err, ErrInvalidOperation) {
			t.Errorf("unexpected error for %v: %v", op, err)
		}
	}
	put(t, state, "key", "value")
}

func TestTrie_TraversalDepthIsLimited(t *testing.T) {
	config := DefaultConfig
	config.MaxTraversalDepth = 3
	state := newTestState(t, config)
	put(t, state, "a", "1")
	put(t, state, "b", "2") // path: a, b, terminal of b
	if err := state.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}

	if err := state.Put([]byte("c"), []byte("3")); !errors.Is(err, ErrTraversalTooDeep) {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := state.Get([]byte("a")); !errors.Is(err, ErrMustAbort) {
		t.Errorf("failed state should require an abort, got %v", err)
	}
	if err := state.Abort(); err != nil {
		t.Fatalf("failed to abort: %v", err)
	}
	expectValue(t, state, "a", "1")
	expectValue(t, state, "b", "2")
	expectMissing(t, state, "c")
}

func TestTrie_CorruptedReferencesAreDetected(t *testing.T) {
	state := newTestState(t, DefaultConfig)
	put(t, state, "key", "value")
	root, err := state.trie.readLiveNode(rootLocation)
	if err != nil {
		t.Fatalf("failed to read root: %v", err)
	}
	// mark the first node as deleted while it is still referenced
	first, err := state.trie.readLiveNode(root.next)
	if err != nil {
		t.Fatalf("failed to read node: %v", err)
	}
	first.deleted = true
	if err := state.trie.writeNode(first); err != nil {
		t.Fatalf("failed to write node: %v", err)
	}
	if _, _, err := state.Get([]byte("key")); !errors.Is(err, ErrCorruptNode) {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := state.Put([]byte("other"), nil); !errors.Is(err, ErrMustAbort) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestTrie_RandomOperationsMatchReference(t *testing.T) {
	forEachConfig(t, func(t *testing.T, config Config) {
		state := newTestState(t, config)
		random := rand.New(rand.NewSource(42))
		committed := map[string]string{}
		current := map[string]string{}
		randomKey := func() string {
			key := make([]byte, random.Intn(24))
			for i := range key {
				key[i] = "abc"[random.Intn(3)]
			}
			return string(key)
		}

		for i := 0; i < 2000; i++ {
			key := randomKey()
			switch op := random.Intn(10); {
			case op < 5:
				value := fmt.Sprintf("%d-%s", i, bytes.Repeat([]byte{'v'}, random.Intn(300)))
				put(t, state, key, value)
				current[key] = value
			case op < 8:
				_, want := current[key]
				if got := del(t, state, key); got != want {
					t.Fatalf("delete of %q reported %t, wanted %t", key, got, want)
				}
				delete(current, key)
			case op < 9:
				if err := state.Commit(); err != nil {
					t.Fatalf("failed to commit: %v", err)
				}
				committed = copyMap(current)
			default:
				if err := state.Abort(); err != nil {
					t.Fatalf("failed to abort: %v", err)
				}
				current = copyMap(committed)
			}
			if i%100 == 0 {
				expectValid(t, state)
				expectContent(t, state, current)
			}
		}
		expectValid(t, state)
		expectContent(t, state, current)
	})
}

func copyMap(m map[string]string) map[string]string {
	res := make(map[string]string, len(m))
	for k, v := range m {
		res[k] = v
	}
	return res
}

func expectContent(t *testing.T, state *State, want map[string]string) {
	t.Helper()
	got := map[string]string{}
	err := state.Visit(func(key, value []byte) error {
		if _, found := got[string(key)]; found {
			return fmt.Errorf("key %q visited twice", key)
		}
		got[string(key)] = string(value)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to visit state: %v", err)
	}
	if len(got) != len(want) {
		t.Errorf("unexpected number of entries, wanted %d, got %d", len(want), len(got))
	}
	for key, value := range want {
		if got[key] != value {
			t.Errorf("unexpected value for %q, wanted %q, got %q", key, value, got[key])
		}
		expectValue(t, state, key, value)
	}
}

func TestTrie_NodesAreNeverPlacedAtTheEmptyOffset(t *testing.T) {
	state := newTestState(t, SmallBlockConfig)
	for i := 0; i < 50; i++ {
		put(t, state, fmt.Sprintf("%03d", i), "v")
	}
	err := state.trie.walk(func(n *node, _ []byte, _ int) error {
		if n.location == dataio.EmptyOffset || n.location == rootLocation {
			return fmt.Errorf("invalid node location %v", n.location)
		}
		return nil
	})
	if err != nil {
		t.Error(err)
	}
}
