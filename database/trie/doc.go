// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

/*
Package trie implements a key/value state on top of a block store using a
compressed radix trie.

Keys are split into chunks of up to MaxKeyChunkSize bytes, each held by a
node. Nodes are linked through two references: next leads to the sibling
at the same key depth, child to the subtree covering the following key
bytes. A key ends in an end-of-string node with an empty chunk whose child
references the record of the value.

The first node of the data region is the root anchor. It never matches any
key; all keys are reached through its next chain.

Deleting a key removes every node on its path that has no child left.
Chains of nodes with a single child are not merged.

All modifications are buffered in memory until State.Commit makes them
durable as a single atomic update of the block store.
*/
package trie
