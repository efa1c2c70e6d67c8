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
	"bytes"
	"fmt"

	"github.com/samkenxstream/SAMkenxprivate-data-objects/database/trie"
	"github.com/urfave/cli/v2"
)

var prefixFlag = cli.StringFlag{
	Name:  "prefix",
	Usage: "only lists keys starting with the given prefix",
}

var dumpCommand = cli.Command{
	Action: doDump,
	Name:   "dump",
	Usage:  "lists all key/value pairs of a state",
	Flags:  append([]cli.Flag{&hexFlag, &prefixFlag}, stateFlags...),
}

func doDump(ctx *cli.Context) error {
	prefix, err := parseBytes(ctx, ctx.String(prefixFlag.Name))
	if err != nil {
		return err
	}
	return withState(ctx, func(state *trie.State) error {
		count := 0
		err := state.Visit(func(key, value []byte) error {
			if !bytes.HasPrefix(key, prefix) {
				return nil
			}
			count++
			_, err := fmt.Fprintf(ctx.App.Writer, "%s: %s\n", formatBytes(ctx, key), formatBytes(ctx, value))
			return err
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(ctx.App.Writer, "%d entries\n", count)
		return nil
	})
}
