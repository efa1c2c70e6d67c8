// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/samkenxstream/SAMkenxprivate-data-objects/backend/compress"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/database/trie"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const (
	fileBackend    = "file"
	leveldbBackend = "leveldb"
)

var (
	dbDirectoryFlag = cli.StringFlag{
		Name:     "dir",
		Usage:    "the targeted state directory",
		Required: true,
	}
	backendFlag = cli.StringFlag{
		Name:  "backend",
		Usage: "the block store backend, either file or leveldb",
		Value: fileBackend,
	}
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "the name of the state configuration",
		Value: trie.DefaultConfig.Name,
	}
	compressionFlag = cli.StringFlag{
		Name:  "compression",
		Usage: "overrides the block compression of the leveldb backend (none, snappy, lz4)",
	}
	hexFlag = cli.BoolFlag{
		Name:  "hex",
		Usage: "keys and values are hex encoded",
	}
	cpuProfileFlag = cli.StringFlag{
		Name:  "cpuprofile",
		Usage: "records a CPU profile of the command in the given file",
	}
	verboseFlag = cli.BoolFlag{
		Name:  "verbose",
		Usage: "enables debug logging",
	}
)

// stateFlags are the flags needed by every command opening a state.
var stateFlags = []cli.Flag{
	&dbDirectoryFlag,
	&backendFlag,
	&configFlag,
	&compressionFlag,
}

func startApp(ctx *cli.Context) error {
	if ctx.Bool(verboseFlag.Name) {
		log.SetLevel(log.DebugLevel)
	}
	if name := ctx.String(cpuProfileFlag.Name); name != "" {
		return StartCPUProfile(name)
	}
	return nil
}

func stopApp(ctx *cli.Context) error {
	return StopCPUProfile()
}

// getConfig resolves the state configuration selected by the flags.
func getConfig(ctx *cli.Context) (trie.Config, error) {
	name := ctx.String(configFlag.Name)
	config, found := trie.GetConfigByName(name)
	if !found {
		return trie.Config{}, fmt.Errorf("unknown configuration %q, supported: %v", name, trie.GetConfigNames())
	}
	if algorithm := ctx.String(compressionFlag.Name); algorithm != "" {
		a, err := compress.ParseAlgorithm(algorithm)
		if err != nil {
			return trie.Config{}, err
		}
		config.Compression = a
	}
	return config, nil
}

func open(ctx *cli.Context) (*trie.State, error) {
	config, err := getConfig(ctx)
	if err != nil {
		return nil, err
	}
	dir := ctx.String(dbDirectoryFlag.Name)
	log.WithFields(log.Fields{
		"dir":     dir,
		"backend": ctx.String(backendFlag.Name),
		"config":  config.Name,
	}).Info("opening state")
	switch backend := ctx.String(backendFlag.Name); backend {
	case fileBackend:
		return trie.OpenFile(dir, config)
	case leveldbBackend:
		return trie.OpenLevelDB(dir, config)
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// withState runs the given action on the state selected by the flags and
// closes it afterwards.
func withState(ctx *cli.Context, action func(*trie.State) error) (err error) {
	state, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		log.WithField("dir", ctx.String(dbDirectoryFlag.Name)).Info("closing state")
		if closeError := state.Close(); closeError != nil {
			if err == nil {
				err = closeError
			} else {
				log.Errorf("failure closing state: %v", closeError)
			}
		}
	}()
	return action(state)
}

// parseBytes interprets a command line argument as key or value.
func parseBytes(ctx *cli.Context, arg string) ([]byte, error) {
	if !ctx.Bool(hexFlag.Name) {
		return []byte(arg), nil
	}
	res, err := hex.DecodeString(arg)
	if err != nil {
		return nil, fmt.Errorf("invalid hex argument %q: %w", arg, err)
	}
	return res, nil
}

func formatBytes(ctx *cli.Context, data []byte) string {
	if ctx.Bool(hexFlag.Name) {
		return hex.EncodeToString(data)
	}
	return string(data)
}

// cpuProfile is the file receiving the running CPU profile, if any.
var cpuProfile *os.File

// StartCPUProfile starts recording a CPU profile into the given file.
func StartCPUProfile(filename string) error {
	if cpuProfile != nil {
		return fmt.Errorf("CPU profile already recorded to %s", cpuProfile.Name())
	}
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("could not create CPU profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		return errors.Join(fmt.Errorf("could not start CPU profile: %w", err), f.Close())
	}
	cpuProfile = f
	return nil
}

// StopCPUProfile completes the running CPU profile and closes its file.
func StopCPUProfile() error {
	if cpuProfile == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := cpuProfile.Close()
	cpuProfile = nil
	if err != nil {
		return fmt.Errorf("could not write CPU profile: %w", err)
	}
	return nil
}
