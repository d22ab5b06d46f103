package workers

import (
	"context"
	"log/slog"
	"os"
	"race-lab/clock"
	"race-lab/contract"
	"race-lab/domain"
	"time"

	"github.com/shirou/gopsutil/process"
)

const DefaultHeartbeatInterval = 5 * time.Second

// HeartbeatWorker writes the liveness record of this racebot instance
// with its memory and CPU usage. Records expire after three missed beats,
// which is what HeartbeatLiveness relies on.
type HeartbeatWorker struct {
	log      *slog.Logger
	store    contract.Store
	clock    clock.Clock
	pid      int
	interval time.Duration
	owned    func() int
}

func NewHeartbeatWorker(log *slog.Logger, store contract.Store, clk clock.Clock, pid int, interval time.Duration, owned func() int) *HeartbeatWorker {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &HeartbeatWorker{log: log, store: store, clock: clk, pid: pid, interval: interval, owned: owned}
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	w.log.Info("Starting heartbeat worker", "pid", w.pid, "interval", w.interval)
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return err
	}
	host, _ := os.Hostname()

	for {
		if err := w.beat(ctx, p, host); err != nil {
			w.log.Warn("Heartbeat not written", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-w.clock.After(w.interval):
		}
	}
}

func (w *HeartbeatWorker) beat(ctx context.Context, p *process.Process, host string) error {
	hb := domain.Heartbeat{PID: w.pid, Host: host, At: w.clock.Now()}
	if rss, cpu, err := selfStats(ctx, p); err != nil {
		w.log.Debug("Failed to collect self stats", "error", err)
	} else {
		hb.RSS, hb.CPU = rss, cpu
	}
	if w.owned != nil {
		hb.OwnedRooms = w.owned()
	}
	return w.store.WithTx(ctx, func(tx contract.Tx) error {
		return tx.SaveHeartbeat(hb, 3*w.interval)
	})
}

// selfStats reads the resident memory and CPU share of the process.
func selfStats(ctx context.Context, p *process.Process) (uint64, float64, error) {
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	cpu, err := p.CPUPercentWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	return mem.RSS, cpu, nil
}
