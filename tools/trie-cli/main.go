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
	"os"

	"github.com/urfave/cli/v2"
)

// Run using
//  go run ./tools/trie-cli <command> <flags>

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "Trie State Toolbox",
		HelpName:  "trie",
		Usage:     "A set of utilities to create, modify, and inspect trie state directories",
		Copyright: "(c) 2023 Fantom Foundation",
		Flags: []cli.Flag{
			&cpuProfileFlag,
			&verboseFlag,
		},
		Before: startApp,
		After:  stopApp,
		Commands: []*cli.Command{
			&initCommand,
			&putCommand,
			&getCommand,
			&deleteCommand,
			&dumpCommand,
			&infoCommand,
			&verifyCommand,
			&stressCommand,
		},
	}
}
