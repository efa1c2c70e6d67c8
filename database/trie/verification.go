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
	"errors"
	"fmt"
	"sort"

	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/dataio"
)

// VerificationObserver is a listener interface for tracking the progress of
// the verification of a state.
type VerificationObserver interface {
	StartVerification()
	Progress(msg string)
	EndVerification(res error)
}

// NilVerificationObserver ignores all reported events.
type NilVerificationObserver struct{}

func (NilVerificationObserver) StartVerification()        {}
func (NilVerificationObserver) Progress(msg string)       {}
func (NilVerificationObserver) EndVerification(res error) {}

// Check runs the structural verification of the state without reporting
// progress.
func (s *State) Check() error {
	return s.Verify(NilVerificationObserver{})
}

// Verify checks the structural integrity of the state:
//   - all reachable nodes and value records can be decoded
//   - no deleted node or value is referenced
//   - no node is referenced twice
//   - every key ends in an end-of-string node holding a value
//   - no reachable node is childless
//   - live ranges overlap neither each other nor free extents
//   - live and free bytes add up to the size of the data region
func (s *State) Verify(observer VerificationObserver) (res error) {
	if err := s.ready(); err != nil {
		return err
	}
	if observer == nil {
		observer = NilVerificationObserver{}
	}
	observer.StartVerification()
	defer func() {
		observer.EndVerification(res)
	}()
	return s.trie.verify(observer)
}

func (t *trie) verify(observer VerificationObserver) error {
	observer.Progress("Checking trie nodes ...")
	live := []dataio.Extent{{Offset: rootLocation, Size: NodeSize}}
	seen := map[dataio.BlockOffset]struct{}{rootLocation: {}}
	err := t.walk(func(n *node, prefix []byte, _ int) error {
		if _, found := seen[n.location]; found {
			return fmt.Errorf("%w: node at %v is referenced more than once", ErrCorruptNode, n.location)
		}
		seen[n.location] = struct{}{}
		live = append(live, dataio.Extent{Offset: n.location, Size: NodeSize})

		switch {
		case n.isEndOfString() && n.child.kind != valueChild:
			return fmt.Errorf("%w: terminal node for key %x without value at %v", ErrCorruptNode, prefix, n.location)
		case !n.isEndOfString() && n.child.kind != subtreeChild:
			return fmt.Errorf("%w: childless node at %v", ErrCorruptNode, n.location)
		case n.child.kind == valueChild:
			info, _, err := t.readValueInfo(n.child.offset)
			if err != nil {
				return err
			}
			if _, err := t.readValue(n.child.offset); err != nil {
				return err
			}
			live = append(live, dataio.Extent{Offset: n.child.offset, Size: valueInfoSize + info.length})
		}
		return nil
	})
	if err != nil {
		return err
	}

	observer.Progress(fmt.Sprintf("Checking %d live ranges ...", len(live)))
	var errs []error
	for _, cur := range live {
		if t.free.Overlaps(cur.Offset, cur.Size) {
			errs = append(errs, fmt.Errorf("%w: live range %v overlaps free extent", ErrSpaceMismatch, cur))
		}
	}
	sort.Slice(live, func(i, j int) bool {
		return t.position(live[i].Offset) < t.position(live[j].Offset)
	})
	liveBytes := uint64(0)
	for i, cur := range live {
		liveBytes += cur.Size
		if i > 0 {
			prev := live[i-1]
			if t.position(prev.Offset)+prev.Size > t.position(cur.Offset) {
				errs = append(errs, fmt.Errorf("%w: live ranges %v and %v overlap", ErrSpaceMismatch, prev, cur))
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	observer.Progress("Checking space accounting ...")
	if used, free := t.io.UsedBytes(), t.free.FreeBytes(); liveBytes+free != used {
		return fmt.Errorf("%w: %d live and %d free bytes in a region of %d bytes", ErrSpaceMismatch, liveBytes, free, used)
	}
	return nil
}

// position is the linear position of an offset within the data region.
func (t *trie) position(offset dataio.BlockOffset) uint64 {
	return uint64(offset.BlockNum)*uint64(t.io.RegionSize()) + uint64(offset.Index) - dataio.DataBeginIndex
}
