// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package compress provides the payload codecs used by block store backends
// persisting blocks into generic key/value databases.
package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/common"
)

// Algorithm identifies a compression codec. The numeric values are part of
// persisted formats and must not be changed.
type Algorithm uint8

const (
	None Algorithm = iota
	Snappy
	LZ4
)

const ErrUnknownAlgorithm = common.ConstError("unknown compression algorithm")

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case Snappy:
		return "snappy"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// ParseAlgorithm resolves an algorithm by its name.
func ParseAlgorithm(name string) (Algorithm, error) {
	for _, a := range []Algorithm{None, Snappy, LZ4} {
		if a.String() == name {
			return a, nil
		}
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
}

// Encode compresses the given data. The input is not modified.
func (a Algorithm) Encode(in []byte) ([]byte, error) {
	switch a {
	case None:
		return bytes.Clone(in), nil
	case Snappy:
		return snappy.Encode(nil, in), nil
	case LZ4:
		buf := &bytes.Buffer{}
		writer := lz4.NewWriter(buf)
		writer.NoChecksum = true
		if _, err := writer.Write(in); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, uint8(a))
	}
}

// Decode restores data produced by Encode of the same algorithm.
func (a Algorithm) Decode(in []byte) ([]byte, error) {
	switch a {
	case None:
		return bytes.Clone(in), nil
	case Snappy:
		return snappy.Decode(nil, in)
	case LZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(in)))
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, uint8(a))
	}
}
