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
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/samkenxstream/SAMkenxprivate-data-objects/common/interrupt"
	"github.com/samkenxstream/SAMkenxprivate-data-objects/database/trie"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var (
	numOperationsFlag = cli.IntFlag{
		Name:  "ops",
		Usage: "the number of random operations to run",
		Value: 100_000,
	}
	batchSizeFlag = cli.IntFlag{
		Name:  "batch",
		Usage: "the number of operations between commits",
		Value: 1000,
	}
	numKeysFlag = cli.IntFlag{
		Name:  "keys",
		Usage: "the number of distinct keys operated on",
		Value: 10_000,
	}
	maxValueSizeFlag = cli.IntFlag{
		Name:  "max-value-size",
		Usage: "the maximum size of stored values",
		Value: 256,
	}
	seedFlag = cli.Int64Flag{
		Name:  "seed",
		Usage: "the seed of the random operation sequence, 0 for a time based seed",
	}
)

var stressCommand = cli.Command{
	Action: doStress,
	Name:   "stress",
	Usage:  "runs random operations on a state and cross-checks the results",
	Flags: append([]cli.Flag{
		&numOperationsFlag,
		&batchSizeFlag,
		&numKeysFlag,
		&maxValueSizeFlag,
		&seedFlag,
	}, stateFlags...),
}

// stressConfig parametrizes a random workload.
type stressConfig struct {
	operations   int
	batchSize    int
	numKeys      int
	maxValueSize int
	seed         int64
}

func doStress(ctx *cli.Context) error {
	config := stressConfig{
		operations:   ctx.Int(numOperationsFlag.Name),
		batchSize:    ctx.Int(batchSizeFlag.Name),
		numKeys:      ctx.Int(numKeysFlag.Name),
		maxValueSize: ctx.Int(maxValueSizeFlag.Name),
		seed:         ctx.Int64(seedFlag.Name),
	}
	if config.seed == 0 {
		config.seed = time.Now().UnixNano()
	}
	if config.batchSize <= 0 || config.numKeys <= 0 || config.maxValueSize < 0 {
		return fmt.Errorf("invalid workload parameters")
	}

	interruptible, cancel := interrupt.Register(ctx.Context)
	defer cancel()

	return withState(ctx, func(state *trie.State) error {
		start := time.Now()
		done, err := runStress(interruptible, state, config)
		log.WithFields(log.Fields{
			"operations": done,
			"seed":       config.seed,
			"elapsed":    time.Since(start).Round(time.Millisecond),
		}).Info("stress run finished")
		if err != nil {
			return err
		}
		log.Info("checking state consistency ...")
		return state.Check()
	})
}

// runStress applies a random sequence of operations to the given state and
// compares the results with a reference map. Keys written by an earlier run
// are only checked once this run has modified them. A cancelled context
// stops the run at the end of the current batch.
func runStress(ctx context.Context, state *trie.State, config stressConfig) (int, error) {
	r := rand.New(rand.NewSource(config.seed))
	keys := make([][]byte, config.numKeys)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("stress/%d/%x", config.seed, r.Int63n(int64(config.numKeys)*16)))
	}
	reference := map[string][]byte{}
	touched := map[string]bool{}

	for i := 0; i < config.operations; i++ {
		key := keys[r.Intn(len(keys))]
		switch r.Intn(3) {
		case 0:
			value := make([]byte, r.Intn(config.maxValueSize+1))
			r.Read(value)
			if err := state.Put(key, value); err != nil {
				return i, err
			}
			reference[string(key)] = value
			touched[string(key)] = true
		case 1:
			value, found, err := state.Get(key)
			if err != nil {
				return i, err
			}
			if !touched[string(key)] {
				break
			}
			want, exists := reference[string(key)]
			if found != exists || !bytes.Equal(value, want) {
				return i, fmt.Errorf("operation %d: unexpected result for key %q, wanted %x (present %t), got %x (present %t)", i, key, want, exists, value, found)
			}
		case 2:
			if _, err := state.Delete(key); err != nil {
				return i, err
			}
			delete(reference, string(key))
			touched[string(key)] = true
		}

		if (i+1)%config.batchSize == 0 {
			if err := state.Commit(); err != nil {
				return i + 1, err
			}
			log.WithField("operations", i+1).Debug("committed batch")
			if err := interrupt.Check(ctx); err != nil {
				return i + 1, err
			}
		}
	}
	return config.operations, state.Commit()
}
