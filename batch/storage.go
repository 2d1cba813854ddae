// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

import (
	"context"
	"slices"
)

// storeFinalized hands a fully signed batch to the wallet. If storage fails
// the batch is kept in memory so it can be retried.
func (c *Coordinator) storeFinalized(ctx context.Context, final []byte) error {
	err := c.cfg.Wallet.StoreFinalized(ctx, final)
	if err == nil {
		return nil
	}

	c.pendingMtx.Lock()
	c.pending = append(c.pending, slices.Clone(final))
	c.pendingMtx.Unlock()

	return newError(ErrStorage, "unable to store finalized batch, "+
		"queued for retry", err)
}

// PendingFinalized returns copies of the fully signed batches that are still
// waiting to be stored.
func (c *Coordinator) PendingFinalized() [][]byte {
	c.pendingMtx.Lock()
	defer c.pendingMtx.Unlock()

	pending := make([][]byte, 0, len(c.pending))
	for _, p := range c.pending {
		pending = append(pending, slices.Clone(p))
	}

	return pending
}

// RetryPending attempts to store every pending batch once. It returns the
// number of batches stored. Batches that fail again stay pending and the last
// failure is returned as an ErrStorage error.
func (c *Coordinator) RetryPending(ctx context.Context) (int, error) {
	c.pendingMtx.Lock()
	batches := c.pending
	c.pending = nil
	c.pendingMtx.Unlock()

	var (
		stored  int
		failed  [][]byte
		lastErr error
	)
	for _, b := range batches {
		if ctx.Err() != nil {
			failed = append(failed, b)
			lastErr = ctx.Err()

			continue
		}

		if err := c.cfg.Wallet.StoreFinalized(ctx, b); err != nil {
			failed = append(failed, b)
			lastErr = err

			continue
		}

		stored++
	}

	if len(failed) > 0 {
		c.pendingMtx.Lock()
		c.pending = append(failed, c.pending...)
		c.pendingMtx.Unlock()

		return stored, newError(ErrStorage, "unable to store pending "+
			"batches", lastErr)
	}

	return stored, nil
}

// Start launches the storage retry loop.
func (c *Coordinator) Start() error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	log.Debugf("Starting batch coordinator for %v", c.cfg.Self)

	c.retryTicker.Resume()

	c.wg.Add(1)
	go c.retryLoop()

	return nil
}

// Stop ends the storage retry loop and waits for it to exit.
func (c *Coordinator) Stop() error {
	if !c.started.Load() || !c.stopped.CompareAndSwap(false, true) {
		return nil
	}

	log.Debugf("Stopping batch coordinator for %v", c.cfg.Self)

	close(c.quit)
	c.wg.Wait()

	c.retryTicker.Stop()

	return nil
}

// retryLoop periodically retries storing pending batches.
//
// NOTE: This MUST be run as a goroutine.
func (c *Coordinator) retryLoop() {
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-c.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-c.retryTicker.Ticks():
			stored, err := c.RetryPending(ctx)
			if stored > 0 {
				log.Infof("Stored %d pending batches", stored)
			}

			if err != nil {
				log.Warnf("Pending batches remain: %v", err)
			}

		case <-c.quit:
			return
		}
	}
}
