// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package file provides a directory based block store backend. Blocks are
// kept in a single data file; updates are made crash atomic through a
// write-ahead journal sealed by a Keccak-256 checksum.
//
// Directory layout:
//
//	meta.json        format version, block size, block count, store id, meta blob
//	blocks.dat       blocks, densely packed in block number order
//	journal.prepare  an update being prepared; ignored and removed on open
//	journal.commit   a committed update not yet fully applied; replayed on open
package file

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/blockstore"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/common"
	log "github.com/sirupsen/logrus"
)

const (
	formatVersion = 1

	metaFileName          = "meta.json"
	blocksFileName        = "blocks.dat"
	preparedJournalName   = "journal.prepare"
	committedJournalName  = "journal.commit"
	temporaryMetaFileName = "meta.json.tmp"
	filePermissions       = 0600
	directoryPermissions  = 0700
)

const (
	ErrCorruptJournal   = common.ConstError("corrupted journal")
	ErrInvalidDirectory = common.ConstError("invalid block store directory")
	ErrMustReopen       = common.ConstError("committed update could not be completed, block store must be reopened")
)

type metadata struct {
	Version   int
	StoreID   uuid.UUID
	BlockSize int
	NumBlocks blockstore.BlockNumber
	Meta      []byte
}

type backend struct {
	directory string
	blocks    *os.File
	meta      metadata
	// failure is set if a committed journal could not be applied. The
	// files then mix old and new content until the journal is replayed.
	failure error
}

// OpenBackend opens the block store in the given directory, creating it if
// necessary. A committed but not yet applied update left behind by a crash is
// completed before the backend is returned.
func OpenBackend(directory string, blockSize int) (blockstore.Backend, error) {
	return openBackend(directory, blockSize)
}

func openBackend(directory string, blockSize int) (*backend, error) {
	if err := blockstore.CheckBlockSize(blockSize); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(directory, directoryPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to create directory %s", directory)
	}

	meta, err := readMetadata(filepath.Join(directory, metaFileName))
	if err != nil {
		if !os.IsNotExist(errors.Cause(err)) {
			return nil, err
		}
		meta = metadata{
			Version:   formatVersion,
			StoreID:   uuid.New(),
			BlockSize: blockSize,
		}
		if err := writeMetadata(directory, meta); err != nil {
			return nil, err
		}
	}
	if meta.Version != formatVersion {
		return nil, errors.Wrapf(ErrInvalidDirectory, "unsupported format version %d, wanted %d", meta.Version, formatVersion)
	}
	if meta.BlockSize != blockSize {
		return nil, errors.Wrapf(blockstore.ErrBlockSizeMismatch, "directory uses %d byte blocks, requested %d", meta.BlockSize, blockSize)
	}

	blocks, err := os.OpenFile(filepath.Join(directory, blocksFileName), os.O_RDWR|os.O_CREATE, filePermissions)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	res := &backend{
		directory: directory,
		blocks:    blocks,
		meta:      meta,
	}
	if err := res.recover(); err != nil {
		blocks.Close()
		return nil, err
	}

	stats, err := blocks.Stat()
	if err != nil {
		blocks.Close()
		return nil, errors.WithStack(err)
	}
	if want := int64(res.meta.NumBlocks) * int64(blockSize); stats.Size() < want {
		blocks.Close()
		return nil, errors.Wrapf(ErrInvalidDirectory, "block file too short, got %d bytes, wanted %d", stats.Size(), want)
	}
	return res, nil
}

// recover removes incomplete journals and completes committed ones.
func (b *backend) recover() error {
	logger := log.WithFields(log.Fields{"directory": b.directory, "store": b.meta.StoreID})

	prepared := filepath.Join(b.directory, preparedJournalName)
	if _, err := os.Stat(prepared); err == nil {
		logger.Warn("dropping uncommitted block store update")
		if err := os.Remove(prepared); err != nil {
			return errors.WithStack(err)
		}
	}

	committed := filepath.Join(b.directory, committedJournalName)
	data, err := os.ReadFile(committed)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.WithStack(err)
	}
	update, err := decodeJournal(data, b.meta.BlockSize)
	if err != nil {
		return err
	}
	logger.WithField("blocks", len(update.Blocks)).Warn("completing committed block store update")
	return b.applyJournal(update)
}

func (b *backend) BlockSize() int {
	return b.meta.BlockSize
}

func (b *backend) NumBlocks() blockstore.BlockNumber {
	return b.meta.NumBlocks
}

func (b *backend) ReadBlock(n blockstore.BlockNumber, trg []byte) error {
	if b.failure != nil {
		return b.failure
	}
	if n >= b.meta.NumBlocks {
		return errors.Wrapf(blockstore.ErrNoSuchBlock, "block %d", n)
	}
	if len(trg) != b.meta.BlockSize {
		return errors.Wrapf(blockstore.ErrBlockSizeMismatch, "buffer of %d bytes", len(trg))
	}
	if _, err := b.blocks.ReadAt(trg, int64(n)*int64(b.meta.BlockSize)); err != nil {
		return errors.Wrapf(err, "failed to read block %d", n)
	}
	return nil
}

func (b *backend) ReadMeta() ([]byte, error) {
	if b.failure != nil {
		return nil, b.failure
	}
	return bytes.Clone(b.meta.Meta), nil
}

func (b *backend) Apply(update *blockstore.Update) error {
	if b.failure != nil {
		return b.failure
	}
	if err := update.Check(b.meta.BlockSize, b.meta.NumBlocks); err != nil {
		return err
	}
	if err := b.prepareJournal(update); err != nil {
		return err
	}
	if err := b.commitJournal(); err != nil {
		return err
	}
	// The update is committed. If it can not be applied, only replaying the
	// journal on the next open restores a consistent view.
	if err := b.completeJournal(update); err != nil {
		b.failure = errors.Wrapf(ErrMustReopen, "%v", err)
		log.WithFields(log.Fields{
			"directory": b.directory,
			"store":     b.meta.StoreID,
		}).Errorf("failed to apply committed block store update: %v", err)
		return b.failure
	}
	return nil
}

// prepareJournal durably writes the update into the prepare journal.
func (b *backend) prepareJournal(update *blockstore.Update) error {
	path := filepath.Join(b.directory, preparedJournalName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePermissions)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := f.Write(encodeJournal(update)); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to write journal")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to sync journal")
	}
	return errors.WithStack(f.Close())
}

// commitJournal atomically turns the prepared journal into the committed
// one. From this point on the update survives crashes.
func (b *backend) commitJournal() error {
	from := filepath.Join(b.directory, preparedJournalName)
	to := filepath.Join(b.directory, committedJournalName)
	return errors.Wrap(os.Rename(from, to), "failed to commit journal")
}

// completeJournal makes the commit of the journal durable and applies it.
func (b *backend) completeJournal(update *blockstore.Update) error {
	if err := syncDirectory(b.directory); err != nil {
		return err
	}
	return b.applyJournal(update)
}

// applyJournal writes a committed update into the data files and removes the
// journal. It is idempotent, so it can be repeated after a crash.
func (b *backend) applyJournal(update *blockstore.Update) error {
	for _, n := range update.SortedBlockNumbers() {
		if _, err := b.blocks.WriteAt(update.Blocks[n], int64(n)*int64(b.meta.BlockSize)); err != nil {
			return errors.Wrapf(err, "failed to write block %d", n)
		}
	}
	if err := b.blocks.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync blocks")
	}
	meta := b.meta
	meta.NumBlocks = update.NumBlocks
	if update.Meta != nil {
		meta.Meta = bytes.Clone(update.Meta)
	}
	if err := writeMetadata(b.directory, meta); err != nil {
		return err
	}
	b.meta = meta
	if err := os.Remove(filepath.Join(b.directory, committedJournalName)); err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	return nil
}

func (b *backend) GetMemoryFootprint() *common.MemoryFootprint {
	res := common.NewMemoryFootprint(unsafe.Sizeof(*b))
	res.AddChild("meta", common.NewMemoryFootprint(uintptr(len(b.meta.Meta))))
	return res
}

func (b *backend) Flush() error {
	if b.failure != nil {
		return b.failure
	}
	return errors.WithStack(b.blocks.Sync())
}

// Close releases the files. A failed backend is closed without flushing;
// its committed journal is replayed when it is opened again.
func (b *backend) Close() error {
	if b.failure != nil {
		return errors.WithStack(b.blocks.Close())
	}
	if err := b.Flush(); err != nil {
		b.blocks.Close()
		return err
	}
	return errors.WithStack(b.blocks.Close())
}

func readMetadata(path string) (metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return metadata{}, errors.WithStack(err)
	}
	var meta metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return metadata{}, errors.Wrapf(ErrInvalidDirectory, "failed to parse %s: %v", path, err)
	}
	return meta, nil
}

// writeMetadata replaces the meta data file atomically.
func writeMetadata(directory string, meta metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return errors.WithStack(err)
	}
	tmp := filepath.Join(directory, temporaryMetaFileName)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePermissions)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.WithStack(err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.WithStack(err)
	}
	if err := f.Close(); err != nil {
		return errors.WithStack(err)
	}
	if err := os.Rename(tmp, filepath.Join(directory, metaFileName)); err != nil {
		return errors.WithStack(err)
	}
	return syncDirectory(directory)
}

func syncDirectory(directory string) error {
	dir, err := os.Open(directory)
	if err != nil {
		return errors.WithStack(err)
	}
	defer dir.Close()
	return errors.WithStack(dir.Sync())
}
