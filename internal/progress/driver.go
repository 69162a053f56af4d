package progress

import (
	"sync"
	"time"
)

// Max is the ceiling every driver caps its value at.
const Max = 100

// Timer is a revocable handle for a scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler arranges for fn to run once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type systemScheduler struct{}

// System returns a Scheduler backed by time.AfterFunc.
func System() Scheduler {
	return systemScheduler{}
}

func (systemScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Driver advances a value toward Max by a fixed step on a fixed cadence and
// reports every new value to its callback.
type Driver struct {
	sched    Scheduler
	interval time.Duration
	step     int
	onTick   func(int)

	mu      sync.Mutex
	value   int
	running bool
	epoch   uint64
	timer   Timer
}

// NewDriver creates a stopped driver. A step below 1 is treated as 1.
func NewDriver(sched Scheduler, interval time.Duration, step int, onTick func(int)) *Driver {
	if sched == nil {
		sched = System()
	}
	if step < 1 {
		step = 1
	}
	if onTick == nil {
		onTick = func(int) {}
	}
	return &Driver{sched: sched, interval: interval, step: step, onTick: onTick}
}

// Start begins ticking from the given value. Starting a running driver
// restarts it.
func (d *Driver) Start(from int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	if from < 0 {
		from = 0
	}
	if from > Max {
		from = Max
	}
	d.value = from
	if from >= Max {
		return
	}
	d.running = true
	d.scheduleLocked(d.epoch)
}

// Stop cancels any further ticks. Safe to call at any time.
func (d *Driver) Stop() {
	d.mu.Lock()
	d.stopLocked()
	d.mu.Unlock()
}

// Value returns the last value produced.
func (d *Driver) Value() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value
}

// Running reports whether more ticks are scheduled.
func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Driver) stopLocked() {
	d.epoch++
	d.running = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Driver) scheduleLocked(epoch uint64) {
	d.timer = d.sched.AfterFunc(d.interval, func() { d.tick(epoch) })
}

func (d *Driver) tick(epoch uint64) {
	d.mu.Lock()
	if epoch != d.epoch || !d.running {
		d.mu.Unlock()
		return
	}
	d.value += d.step
	if d.value >= Max {
		d.value = Max
		d.running = false
		d.timer = nil
	} else {
		d.scheduleLocked(epoch)
	}
	v := d.value
	d.mu.Unlock()

	d.onTick(v)
}
