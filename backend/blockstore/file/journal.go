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
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/blockstore"
	"golang.org/x/crypto/sha3"
)

// Journal layout (all integers big endian):
//
//	magic       [4]byte
//	numBlocks   uint32
//	hasMeta     uint8
//	metaLength  uint32
//	meta        [metaLength]byte
//	count       uint32
//	count x { block uint32, data [blockSize]byte }
//	checksum    [32]byte Keccak-256 of everything above

var journalMagic = [4]byte{'B', 'S', 'J', '1'}

const checksumSize = 32

func keccak256(data []byte) []byte {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(data)
	return hasher.Sum(nil)
}

func encodeJournal(update *blockstore.Update) []byte {
	var buffer bytes.Buffer
	var scratch [4]byte
	putUint32 := func(v uint32) {
		binary.BigEndian.PutUint32(scratch[:], v)
		buffer.Write(scratch[:])
	}

	buffer.Write(journalMagic[:])
	putUint32(uint32(update.NumBlocks))
	if update.Meta != nil {
		buffer.WriteByte(1)
	} else {
		buffer.WriteByte(0)
	}
	putUint32(uint32(len(update.Meta)))
	buffer.Write(update.Meta)
	putUint32(uint32(len(update.Blocks)))
	for _, n := range update.SortedBlockNumbers() {
		putUint32(uint32(n))
		buffer.Write(update.Blocks[n])
	}
	buffer.Write(keccak256(buffer.Bytes()))
	return buffer.Bytes()
}

func decodeJournal(data []byte, blockSize int) (*blockstore.Update, error) {
	if len(data) < len(journalMagic)+checksumSize {
		return nil, errors.Wrapf(ErrCorruptJournal, "journal too short: %d bytes", len(data))
	}
	content, checksum := data[:len(data)-checksumSize], data[len(data)-checksumSize:]
	if !bytes.Equal(keccak256(content), checksum) {
		return nil, errors.Wrap(ErrCorruptJournal, "checksum mismatch")
	}

	reader := bytes.NewReader(content)
	var magic [4]byte
	var numBlocks, metaLength, count uint32
	var hasMeta uint8
	if err := binary.Read(reader, binary.BigEndian, &magic); err != nil || magic != journalMagic {
		return nil, errors.Wrap(ErrCorruptJournal, "invalid magic")
	}
	if err := binary.Read(reader, binary.BigEndian, &numBlocks); err != nil {
		return nil, errors.Wrap(ErrCorruptJournal, "missing block count")
	}
	if err := binary.Read(reader, binary.BigEndian, &hasMeta); err != nil {
		return nil, errors.Wrap(ErrCorruptJournal, "missing meta flag")
	}
	if err := binary.Read(reader, binary.BigEndian, &metaLength); err != nil || int(metaLength) > reader.Len() {
		return nil, errors.Wrap(ErrCorruptJournal, "invalid meta length")
	}
	update := &blockstore.Update{
		NumBlocks: blockstore.BlockNumber(numBlocks),
		Blocks:    map[blockstore.BlockNumber][]byte{},
	}
	meta := make([]byte, metaLength)
	if _, err := reader.Read(meta); err != nil && metaLength > 0 {
		return nil, errors.Wrap(ErrCorruptJournal, "truncated meta data")
	}
	if hasMeta != 0 {
		update.Meta = meta
	}
	if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
		return nil, errors.Wrap(ErrCorruptJournal, "missing block count")
	}
	if int64(reader.Len()) != int64(count)*int64(4+blockSize) {
		return nil, errors.Wrapf(ErrCorruptJournal, "invalid journal size for %d blocks", count)
	}
	for i := uint32(0); i < count; i++ {
		var n uint32
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, errors.Wrap(ErrCorruptJournal, "truncated block entry")
		}
		block := make([]byte, blockSize)
		if _, err := reader.Read(block); err != nil {
			return nil, errors.Wrap(ErrCorruptJournal, "truncated block entry")
		}
		update.Blocks[blockstore.BlockNumber(n)] = block
	}
	return update, nil
}
