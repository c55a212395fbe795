package progress

import (
	"math"
	"sync"
	"time"

	"github.com/meetscribe/client/internal/notify"
)

// DefaultUploadCeiling is the share of the bar, in percent, covered by the
// HTTP upload. The server-side job fills the rest.
const DefaultUploadCeiling = 15.0

// Aggregator owns the State of the current job. Every mutation carries the
// generation returned by Reset; calls with any other generation are ignored.
//
// Listeners registered with OnChange receive snapshots in mutation order;
// a snapshot overtaken by a newer one before delivery is skipped. They may
// read the Aggregator but must not mutate it.
type Aggregator struct {
	ceiling float64
	now     func() time.Time

	mu         sync.Mutex
	state      State
	exact      float64 // unrounded percent, never decreasing within a generation
	generation uint64
	listeners  map[int]func(State)
	nextID     int
	seq        uint64 // stamps published snapshots

	deliverMu sync.Mutex
	delivered uint64 // last seq handed to listeners, guarded by deliverMu
}

// NewAggregator creates an idle aggregator. ceiling <= 0 or >= 100 selects
// DefaultUploadCeiling.
func NewAggregator(ceiling float64) *Aggregator {
	if ceiling <= 0 || ceiling >= 100 {
		ceiling = DefaultUploadCeiling
	}
	a := &Aggregator{
		ceiling:   ceiling,
		now:       time.Now,
		listeners: make(map[int]func(State)),
	}
	a.state = State{Phase: PhaseIdle, Label: LabelIdle, UpdatedAt: a.now()}
	return a
}

// Ceiling returns the upload share of the bar.
func (a *Aggregator) Ceiling() float64 { return a.ceiling }

// Snapshot returns the current state.
func (a *Aggregator) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Generation returns the current generation.
func (a *Aggregator) Generation() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation
}

// OnChange registers fn for every state change and returns a function that
// removes it.
func (a *Aggregator) OnChange(fn func(State)) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

// Reset clears the state for a new job and returns its generation. Callbacks
// still holding an older generation become no-ops.
func (a *Aggregator) Reset() uint64 {
	a.mu.Lock()
	a.generation++
	gen := a.generation
	a.exact = 0
	a.state = State{Phase: PhaseIdle, Label: LabelIdle, UpdatedAt: a.now()}
	a.publishLocked()
	return gen
}

// Retire ends gen without touching the visible state. Used on cancellation
// so late callbacks of the cancelled job cannot change anything.
func (a *Aggregator) Retire(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen == a.generation {
		a.generation++
	}
}

// ReportUploadBytes maps HTTP upload progress into [0, ceiling].
func (a *Aggregator) ReportUploadBytes(gen uint64, sent, total int64) {
	if total <= 0 {
		return
	}
	ratio := float64(sent) / float64(total)
	ratio = math.Max(0, math.Min(ratio, 1))

	a.mu.Lock()
	if !a.acceptLocked(gen) {
		a.mu.Unlock()
		return
	}
	changed := false
	if a.state.Phase < PhaseUploading {
		a.state.Phase = PhaseUploading
		a.state.Label = LabelUploading
		changed = true
	}
	if a.raiseLocked(ratio * a.ceiling) {
		changed = true
	}
	a.finishLocked(changed)
}

// MarkUploaded records that the server acknowledged the upload.
func (a *Aggregator) MarkUploaded(gen uint64) {
	a.mu.Lock()
	if !a.acceptLocked(gen) {
		a.mu.Unlock()
		return
	}
	changed := a.raiseLocked(a.ceiling)
	if a.state.Phase < PhaseAwaitingProcessing {
		a.state.Phase = PhaseAwaitingProcessing
		a.state.Label = LabelUploaded
		changed = true
	}
	a.finishLocked(changed)
}

// ReportServerEvent applies one decoded server notification.
func (a *Aggregator) ReportServerEvent(gen uint64, n notify.Notification) {
	a.mu.Lock()
	if !a.acceptLocked(gen) {
		a.mu.Unlock()
		return
	}

	changed := false
	switch p := n.Payload.(type) {
	case notify.Started:
		if a.state.Phase < PhaseAwaitingProcessing {
			a.state.Phase = PhaseAwaitingProcessing
			a.state.Label = LabelStarted
			changed = true
		}
	case notify.Progress:
		a.state.Phase = PhaseProcessing
		a.state.Step = p.Step
		a.state.Remaining = p.Remaining
		a.state.Label = StepLabel(p.Step, p.Message)
		a.raiseLocked(a.ceiling + p.Percent/100*(100-a.ceiling))
		changed = true
	case notify.Completed:
		a.state.Phase = PhaseCompleted
		a.state.Label = LabelCompleted
		a.state.Remaining = nil
		a.exact = 100
		a.state.Percent = 100
		changed = true
	case notify.Failed:
		a.failLocked(p.Error)
		changed = true
	}
	a.finishLocked(changed)
}

// ReportFailure ends gen as failed with reason, freezing the percentage.
func (a *Aggregator) ReportFailure(gen uint64, reason string) {
	a.mu.Lock()
	if !a.acceptLocked(gen) {
		a.mu.Unlock()
		return
	}
	a.failLocked(reason)
	a.finishLocked(true)
}

func (a *Aggregator) acceptLocked(gen uint64) bool {
	return gen == a.generation && !a.state.Phase.Terminal()
}

func (a *Aggregator) failLocked(reason string) {
	a.state.Phase = PhaseFailed
	a.state.Error = reason
	a.state.Remaining = nil
	if reason != "" {
		a.state.Label = LabelFailedPrefix + ": " + reason
	} else {
		a.state.Label = LabelFailedPrefix
	}
}

// raiseLocked moves the percentage up to v; lower values are ignored.
func (a *Aggregator) raiseLocked(v float64) bool {
	v = math.Min(v, 100)
	if v <= a.exact {
		return false
	}
	a.exact = v
	pct := int(math.Floor(v + 1e-9))
	if pct == a.state.Percent {
		return false
	}
	a.state.Percent = pct
	return true
}

// finishLocked publishes the state if it changed and releases a.mu.
func (a *Aggregator) finishLocked(changed bool) {
	if !changed {
		a.mu.Unlock()
		return
	}
	a.state.UpdatedAt = a.now()
	a.publishLocked()
}

// publishLocked stamps the state, releases a.mu and delivers the snapshot
// under deliverMu. a.mu is never held while waiting for deliverMu, so
// listeners may call back into the Aggregator.
func (a *Aggregator) publishLocked() {
	a.seq++
	seq := a.seq
	snap := a.state
	fns := make([]func(State), 0, len(a.listeners))
	for id := 0; id < a.nextID; id++ {
		if fn, ok := a.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	a.mu.Unlock()

	a.deliverMu.Lock()
	defer a.deliverMu.Unlock()
	if seq <= a.delivered {
		return
	}
	a.delivered = seq
	for _, fn := range fns {
		fn(snap)
	}
}
