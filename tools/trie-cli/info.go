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
	"time"

	"github.com/samkenxstream/SAMkenxprivate-data-objects/database/trie"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var memoryFlag = cli.BoolFlag{
	Name:  "memory",
	Usage: "also prints the memory footprint of the opened state",
}

var infoCommand = cli.Command{
	Action: doInfo,
	Name:   "info",
	Usage:  "prints summary information about a state directory",
	Flags:  append([]cli.Flag{&memoryFlag}, stateFlags...),
}

var verifyCommand = cli.Command{
	Action: doVerify,
	Name:   "verify",
	Usage:  "checks the structural consistency of a state directory",
	Flags:  stateFlags,
}

func doInfo(ctx *cli.Context) error {
	return withState(ctx, func(state *trie.State) error {
		log.Info("collecting statistics ...")
		stats, err := state.GetStatistics()
		if err != nil {
			return err
		}
		out := ctx.App.Writer
		fmt.Fprintf(out, "Nodes:        %d\n", stats.NumNodes)
		fmt.Fprintf(out, "Values:       %d (%d bytes)\n", stats.NumValues, stats.ValueBytes)
		fmt.Fprintf(out, "Max key:      %d bytes\n", stats.MaxKeyLength)
		fmt.Fprintf(out, "Max depth:    %d\n", stats.MaxDepth)
		fmt.Fprintf(out, "Data nodes:   %d\n", stats.NumDataNodes)
		fmt.Fprintf(out, "Used bytes:   %d\n", stats.UsedBytes)
		fmt.Fprintf(out, "Free bytes:   %d in %d extents\n", stats.FreeBytes, stats.NumFreeExtents)
		if ctx.Bool(memoryFlag.Name) {
			fmt.Fprintf(out, "Memory:\n%v", state.GetMemoryFootprint())
		}
		return nil
	})
}

func doVerify(ctx *cli.Context) error {
	return withState(ctx, func(state *trie.State) error {
		return state.Verify(&verificationObserver{})
	})
}

// verificationObserver reports the progress of a verification to the log.
type verificationObserver struct {
	start time.Time
}

func (o *verificationObserver) StartVerification() {
	o.start = time.Now()
	o.entry().Info("starting verification ...")
}

func (o *verificationObserver) Progress(msg string) {
	o.entry().Info(msg)
}

func (o *verificationObserver) EndVerification(res error) {
	if res == nil {
		o.entry().Info("verification successful")
	} else {
		o.entry().Errorf("verification failed: %v", res)
	}
}

func (o *verificationObserver) entry() *log.Entry {
	return log.WithField("elapsed", time.Since(o.start).Round(time.Millisecond))
}
