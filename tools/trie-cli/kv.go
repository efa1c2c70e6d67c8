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
	"fmt"

	"github.com/samkenxstream/SAMkenxprivate-data-objects/common"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/database/trie"
	"github.com/urfave/cli/v2"
)

const errKeyNotFound = common.ConstError("key not found")

var initCommand = cli.Command{
	Action: doInit,
	Name:   "init",
	Usage:  "creates an empty state in a directory",
	Flags:  stateFlags,
}

var putCommand = cli.Command{
	Action:    doPut,
	Name:      "put",
	Usage:     "stores a value and commits the change",
	ArgsUsage: "<key> <value>",
	Flags:     append([]cli.Flag{&hexFlag}, stateFlags...),
}

var getCommand = cli.Command{
	Action:    doGet,
	Name:      "get",
	Usage:     "prints the value stored for a key",
	ArgsUsage: "<key>",
	Flags:     append([]cli.Flag{&hexFlag}, stateFlags...),
}

var deleteCommand = cli.Command{
	Action:    doDelete,
	Name:      "del",
	Usage:     "removes a key and commits the change",
	ArgsUsage: "<key>",
	Flags:     append([]cli.Flag{&hexFlag}, stateFlags...),
}

func doInit(ctx *cli.Context) error {
	return withState(ctx, func(state *trie.State) error {
		fmt.Fprintf(ctx.App.Writer, "state ready in %s\n", ctx.String(dbDirectoryFlag.Name))
		return nil
	})
}

func doPut(ctx *cli.Context) error {
	if ctx.Args().Len() != 2 {
		return fmt.Errorf("expected key and value, got %d arguments", ctx.Args().Len())
	}
	key, err := parseBytes(ctx, ctx.Args().Get(0))
	if err != nil {
		return err
	}
	value, err := parseBytes(ctx, ctx.Args().Get(1))
	if err != nil {
		return err
	}
	return withState(ctx, func(state *trie.State) error {
		if err := state.Put(key, value); err != nil {
			return err
		}
		return state.Commit()
	})
}

func doGet(ctx *cli.Context) error {
	if ctx.Args().Len() != 1 {
		return fmt.Errorf("expected a key, got %d arguments", ctx.Args().Len())
	}
	key, err := parseBytes(ctx, ctx.Args().Get(0))
	if err != nil {
		return err
	}
	return withState(ctx, func(state *trie.State) error {
		value, found, err := state.Get(key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %q", errKeyNotFound, ctx.Args().Get(0))
		}
		fmt.Fprintln(ctx.App.Writer, formatBytes(ctx, value))
		return nil
	})
}

func doDelete(ctx *cli.Context) error {
	if ctx.Args().Len() != 1 {
		return fmt.Errorf("expected a key, got %d arguments", ctx.Args().Len())
	}
	key, err := parseBytes(ctx, ctx.Args().Get(0))
	if err != nil {
		return err
	}
	return withState(ctx, func(state *trie.State) error {
		found, err := state.Delete(key)
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintf(ctx.App.Writer, "key %q not present\n", ctx.Args().Get(0))
			return nil
		}
		return state.Commit()
	})
}
