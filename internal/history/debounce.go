package history

import (
	"sort"
	"sync"
	"time"
)

// debouncer owns one timer per key. Scheduling a key again inside the window
// restarts its timer; only the trailing call fires.
type debouncer struct {
	window time.Duration
	lock   sync.Locker
	fire   func(name string)

	mu      sync.Mutex
	seq     uint64
	pending map[string]*pendingCommit
}

type pendingCommit struct {
	name  string
	seq   uint64
	timer *time.Timer
}

func newDebouncer(window time.Duration, lock sync.Locker, fire func(name string)) *debouncer {
	return &debouncer{
		window:  window,
		lock:    lock,
		fire:    fire,
		pending: make(map[string]*pendingCommit),
	}
}

func (d *debouncer) Schedule(key, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
	}
	d.seq++
	seq := d.seq
	p := &pendingCommit{name: name, seq: seq}
	p.timer = time.AfterFunc(d.window, func() { d.expire(key, seq) })
	d.pending[key] = p
}

// expire fires key if the timer that called it is still the current one.
func (d *debouncer) expire(key string, seq uint64) {
	if d.lock != nil {
		d.lock.Lock()
		defer d.lock.Unlock()
	}
	d.mu.Lock()
	p, ok := d.pending[key]
	if !ok || p.seq != seq {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()
	d.fire(p.name)
}

func (d *debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
		delete(d.pending, key)
	}
}

// Flush fires every pending key now, in scheduling order.
func (d *debouncer) Flush() {
	d.mu.Lock()
	due := make([]*pendingCommit, 0, len(d.pending))
	for key, p := range d.pending {
		p.timer.Stop()
		due = append(due, p)
		delete(d.pending, key)
	}
	d.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].seq < due[j].seq })
	for _, p := range due {
		d.fire(p.name)
	}
}

func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, key)
	}
}

func (d *debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
