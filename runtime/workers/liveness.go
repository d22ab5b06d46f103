package workers

import (
	"context"
	"race-lab/clock"
	"race-lab/contract"
	"time"

	"github.com/shirou/gopsutil/process"
)

var (
	_ contract.Liveness = ProcessLiveness{}
	_ contract.Liveness = (*HeartbeatLiveness)(nil)
)

// ProcessLiveness asks the operating system whether pid still runs. It
// only makes sense when every racebot shares one host.
type ProcessLiveness struct{}

func (ProcessLiveness) Alive(ctx context.Context, pid int) (bool, error) {
	return process.PidExistsWithContext(ctx, int32(pid))
}

// HeartbeatLiveness considers an instance alive while its heartbeat is
// younger than MaxAge.
type HeartbeatLiveness struct {
	Store  contract.Store
	Clock  clock.Clock
	MaxAge time.Duration
}

func (l *HeartbeatLiveness) Alive(ctx context.Context, pid int) (bool, error) {
	alive := false
	err := l.Store.View(ctx, func(tx contract.Tx) error {
		hb, err := tx.Heartbeat(pid)
		if err != nil || hb == nil {
			return err
		}
		alive = hb.Fresh(l.Clock.Now(), l.MaxAge)
		return nil
	})
	return alive, err
}
