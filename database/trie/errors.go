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

import "github.com/samkenxstream/SAMkenxprivate-data-objects/common"

const (
	ErrInvalidOperation = common.ConstError("invalid trie operation")
	ErrKeyTooLong       = common.ConstError("key exceeds maximum key size")
	ErrCorruptNode      = common.ConstError("corrupt trie node")
	ErrCorruptValue     = common.ConstError("corrupt value record")
	ErrSpaceMismatch    = common.ConstError("space accounting mismatch")
	ErrTraversalTooDeep = common.ConstError("trie traversal exceeds maximum depth")
	ErrTrieNotEmpty     = common.ConstError("trie is not empty")
	ErrCorruptMeta      = common.ConstError("corrupt state meta data")
	ErrMustAbort        = common.ConstError("state has failed and must be aborted")
	ErrClosed           = common.ConstError("state is closed")
)
