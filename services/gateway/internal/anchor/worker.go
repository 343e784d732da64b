package anchor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const DefaultInterval = 5 * time.Minute

// passTimeout bounds one background pass, covering the simulated delay and
// the mining wait.
const passTimeout = 2 * time.Minute

// Worker runs the routine on a single goroutine. Triggers that arrive while
// a pass is running collapse into one follow-up pass.
type Worker struct {
	routine  *Routine
	interval time.Duration
	logger   *slog.Logger

	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewWorker(routine *Routine, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		routine:  routine,
		interval: interval,
		logger:   logger,
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop waits for an in-flight pass to finish.
func (w *Worker) Stop() {
	w.once.Do(func() { close(w.done) })
	w.wg.Wait()
}

// Trigger never blocks.
func (w *Worker) Trigger() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	tick := time.NewTicker(w.interval)
	defer tick.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-w.kick:
			w.pass("trigger")
		case <-tick.C:
			w.pass("interval")
		}
	}
}

func (w *Worker) pass(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
	defer cancel()
	res, err := w.routine.Run(ctx)
	if err != nil {
		w.logger.Error("anchoring pass failed", "reason", reason, "error", err)
		return
	}
	if res.Count > 0 {
		w.logger.Info("anchoring pass complete", "reason", reason, "count", res.Count, "tx_hash", res.TxHash)
	}
}
