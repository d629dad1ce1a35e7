package coordinator

import (
	"sync"
	"time"

	"github.com/lyzr/assembly/common/clients"
)

type nextUnitState int

const (
	nextUnitPending nextUnitState = iota
	nextUnitFired
	nextUnitCancelled
)

// NextUnit is the interstitial between two units of a work order. After
// its delay it restarts the session for the next unit; Skip restarts
// immediately and Cancel leaves the session completed.
type NextUnit struct {
	progress clients.WorkOrderProgress
	delay    time.Duration
	restart  func() error
	logger   Logger

	mu    sync.Mutex
	state nextUnitState
	timer *time.Timer
	done  chan struct{}
	err   error
}

// ScheduleNextUnit starts the countdown to the next unit. It returns nil
// when the work order is already finished.
func ScheduleNextUnit(progress clients.WorkOrderProgress, delay time.Duration, restart func() error, logger Logger) *NextUnit {
	if progress.Finished() {
		return nil
	}

	n := &NextUnit{
		progress: progress,
		delay:    delay,
		restart:  restart,
		logger:   logger,
		done:     make(chan struct{}),
	}

	n.mu.Lock()
	n.timer = time.AfterFunc(delay, n.fire)
	n.mu.Unlock()

	logger.Info("next unit scheduled",
		"work_order_id", progress.WorkOrderID,
		"completed", progress.CompletedQuantity,
		"quantity", progress.Quantity,
		"delay", delay)
	return n
}

// Progress returns the work order progress shown on the interstitial
func (n *NextUnit) Progress() clients.WorkOrderProgress {
	return n.progress
}

// Remaining returns the units still to build after this one
func (n *NextUnit) Remaining() int {
	return n.progress.Quantity - n.progress.CompletedQuantity
}

// Delay returns the configured countdown
func (n *NextUnit) Delay() time.Duration {
	return n.delay
}

// Skip restarts the session now instead of waiting for the delay
func (n *NextUnit) Skip() error {
	n.mu.Lock()
	if n.state != nextUnitPending {
		n.mu.Unlock()
		<-n.done
		return n.Err()
	}
	n.timer.Stop()
	n.mu.Unlock()

	n.fire()
	<-n.done
	return n.Err()
}

// Cancel stops the countdown. It reports false when the restart already
// happened.
func (n *NextUnit) Cancel() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != nextUnitPending {
		return false
	}
	n.timer.Stop()
	n.state = nextUnitCancelled
	close(n.done)
	return true
}

// Done is closed once the countdown fired, was skipped or was cancelled
func (n *NextUnit) Done() <-chan struct{} {
	return n.done
}

// Err returns the restart error, valid after Done is closed
func (n *NextUnit) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

func (n *NextUnit) fire() {
	n.mu.Lock()
	if n.state != nextUnitPending {
		n.mu.Unlock()
		return
	}
	n.state = nextUnitFired
	n.mu.Unlock()

	err := n.restart()
	if err != nil {
		n.logger.Warn("next unit restart failed",
			"work_order_id", n.progress.WorkOrderID,
			"error", err)
	}

	n.mu.Lock()
	n.err = err
	n.mu.Unlock()
	close(n.done)
}
