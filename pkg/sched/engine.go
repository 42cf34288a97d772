package sched

import (
	"sync"
	"time"

	"github.com/ludia8888/arrakis-scheduler/pkg/core"
	"github.com/ludia8888/arrakis-scheduler/pkg/trigger"
)

// entry is one scheduled instance tracked by the trigger engine. One job id
// may appear under several instance ids with different triggers.
type entry struct {
	instanceID string
	jobID      string
	trig       trigger.Trigger
	args       map[string]any
	meta       *core.JobMetadata

	nextRun time.Time // zero when exhausted
	paused  bool
	running int // in-flight firings of this instance
}

// firing is one due instance the trigger loop should execute. Missed is set
// when the instance was at its max-instances limit and the firing was
// skipped rather than run.
type firing struct {
	instanceID string
	jobID      string
	trig       trigger.Trigger
	args       map[string]any
	meta       *core.JobMetadata
	missed     bool
}

// engine holds the in-memory schedule. It is process-local; the state store
// is the durable record.
type engine struct {
	mu      sync.Mutex
	entries map[string]*entry

	// coalesce collapses a backlog of missed fire times into one firing.
	coalesce bool

	// maxInstances caps concurrent firings per scheduled instance.
	maxInstances int
}

func newEngine(coalesce bool, maxInstances int) *engine {
	if maxInstances < 1 {
		maxInstances = 1
	}
	return &engine{
		entries:      make(map[string]*entry),
		coalesce:     coalesce,
		maxInstances: maxInstances,
	}
}

func (e *engine) add(ent *entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entries[ent.instanceID]; ok {
		return core.ErrInstanceExists
	}
	e.entries[ent.instanceID] = ent
	return nil
}

func (e *engine) remove(instanceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entries[instanceID]; !ok {
		return false
	}
	delete(e.entries, instanceID)
	return true
}

func (e *engine) setPaused(instanceID string, paused bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[instanceID]
	if !ok {
		return false
	}
	ent.paused = paused
	return true
}

// setNextRun overrides the next fire time, used when applying reschedule
// hints and dependency-sweep re-fires.
func (e *engine) setNextRun(instanceID string, at time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[instanceID]
	if !ok {
		return false
	}
	ent.nextRun = at
	return true
}

// get returns a snapshot of the entry, or nil when unknown.
func (e *engine) get(instanceID string) *entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[instanceID]
	if !ok {
		return nil
	}
	cp := *ent
	return &cp
}

// list returns snapshots of all entries.
func (e *engine) list() []*entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*entry, 0, len(e.entries))
	for _, ent := range e.entries {
		cp := *ent
		out = append(out, &cp)
	}
	return out
}

func (e *engine) size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

func (e *engine) runningCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ent := range e.entries {
		n += ent.running
	}
	return n
}

// due collects every instance whose fire time has arrived, advancing each
// entry's nextRun. With coalesce enabled the next run is computed from now,
// so a backlog of missed fire times collapses into this one firing; without
// it the next run follows the previous fire time and the loop catches up
// tick by tick.
func (e *engine) due(now time.Time) []firing {
	e.mu.Lock()
	defer e.mu.Unlock()

	var fires []firing
	for _, ent := range e.entries {
		if ent.paused || ent.nextRun.IsZero() || ent.nextRun.After(now) {
			continue
		}

		from := ent.nextRun
		if e.coalesce {
			from = now
		}
		if next, ok := ent.trig.Next(from); ok {
			ent.nextRun = next
		} else {
			ent.nextRun = time.Time{}
		}

		// Each firing carries its own metadata copy; concurrent firings
		// of one instance must not share the entry's pointer.
		f := firing{
			instanceID: ent.instanceID,
			jobID:      ent.jobID,
			trig:       ent.trig,
			args:       ent.args,
			meta:       ent.meta.Clone(),
		}
		if ent.running >= e.maxInstances {
			f.missed = true
		} else {
			ent.running++
		}
		fires = append(fires, f)
	}
	return fires
}

// bumpReschedule increments the instance's reschedule count on the
// canonical entry metadata and returns a snapshot for persistence, or nil
// when the instance is gone.
func (e *engine) bumpReschedule(instanceID string) *core.JobMetadata {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[instanceID]
	if !ok {
		return nil
	}
	ent.meta.RescheduleCount++
	return ent.meta.Clone()
}

// done releases one in-flight firing of the instance.
func (e *engine) done(instanceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent, ok := e.entries[instanceID]; ok && ent.running > 0 {
		ent.running--
	}
}
