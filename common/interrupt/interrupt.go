// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package interrupt turns termination signals into context cancellation so
// that long running tools can stop at a point where the state is consistent.
package interrupt

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/samkenxstream/SAMkenxprivate-data-objects/common"
	log "github.com/sirupsen/logrus"
)

const ErrCanceled = common.ConstError("interrupted")

// IsCancelled returns true if the given context has been cancelled.
func IsCancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Register returns a context that is cancelled on the first SIGINT or
// SIGTERM. The returned function stops watching for signals and cancels
// the context; it must be called once the context is no longer needed.
func Register(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(signals)
		select {
		case sig := <-signals:
			log.WithField("signal", sig).Warn("interrupted, finishing current batch before shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Check returns ErrCanceled if the given context has been cancelled.
func Check(ctx context.Context) error {
	if IsCancelled(ctx) {
		return ErrCanceled
	}
	return nil
}
