package main

import (
	"context"
	"log"
	"math/big"
	"time"

	"github.com/xtxerr/pick9/internal/simulate"
	"github.com/xtxerr/pick9/internal/storage/types"
)

// submitter is the part of client.Client a worker uses.
type submitter interface {
	Submit(ctx context.Context, batch *types.CounterSet) (*big.Int, error)
}

// flushTimeout bounds the upload of a partial batch after interruption.
const flushTimeout = 10 * time.Second

// worker simulates batches and uploads each one. A failed upload is logged
// and the batch dropped; the worker keeps going.
type worker struct {
	id      int
	rounds  int
	batches int // 0 means unlimited
	client  submitter
}

func (w *worker) run(ctx context.Context) error {
	rng := simulate.NewRand()

	for n := 0; w.batches == 0 || n < w.batches; n++ {
		start := time.Now()
		batch, done, err := simulate.RunContext(ctx, rng, w.rounds)
		if err != nil {
			// Interrupted: upload what was simulated, then stop.
			if done > 0 {
				flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
				w.upload(flushCtx, batch, done, time.Since(start))
				cancel()
			}
			return nil
		}

		w.upload(ctx, batch, done, time.Since(start))
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

func (w *worker) upload(ctx context.Context, batch *types.CounterSet, trials int, elapsed time.Duration) {
	speed := float64(trials) / elapsed.Seconds()
	log.Printf("Thread #%d: Did %d trials, speed %.0f trials/sec/thread, uploading", w.id, trials, speed)

	total, err := w.client.Submit(ctx, batch)
	if err != nil {
		log.Printf("Thread #%d: upload failed: %v", w.id, err)
		return
	}
	if total != nil {
		log.Printf("Thread #%d: Uploaded. Server total %s trials", w.id, total)
		return
	}
	log.Printf("Thread #%d: Uploaded.", w.id)
}
