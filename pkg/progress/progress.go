package progress

import (
	"context"
	"log/slog"
)

type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateSuccess State = "success"
	StateFailure State = "failure"
)

type Status struct {
	State    State   `json:"state"`
	Fraction float64 `json:"fraction,omitempty"`
}

var (
	Pending = Status{State: StatePending}
	Success = Status{State: StateSuccess}
	Failure = Status{State: StateFailure}
)

func Running(fraction float64) Status {
	return Status{State: StateRunning, Fraction: clamp(fraction)}
}

// Progress is the completed fraction this status stands for.
func (s Status) Progress() float64 {
	switch s.State {
	case StateRunning:
		return clamp(s.Fraction)
	case StateSuccess:
		return 1
	default:
		return 0
	}
}

type SubTask struct {
	ID     string  `json:"id"`
	Status Status  `json:"status"`
	Weight float64 `json:"weight"`
}

type Report struct {
	Status   Status    `json:"status"`
	SubTasks []SubTask `json:"sub_tasks"`
}

// Aggregate folds sub-task statuses into one overall status. Any failure
// fails the whole report; success requires every sub-task to succeed.
func Aggregate(tasks []SubTask) Status {
	if len(tasks) == 0 {
		return Pending
	}

	var (
		total, done float64
		succeeded   int
		pending     int
	)
	for _, t := range tasks {
		switch t.Status.State {
		case StateFailure:
			return Failure
		case StateSuccess:
			succeeded++
		case StatePending:
			pending++
		}
		total += t.Weight
		done += t.Weight * t.Status.Progress()
	}

	switch {
	case succeeded == len(tasks):
		return Success
	case pending == len(tasks):
		return Pending
	case total <= 0:
		var sum float64
		for _, t := range tasks {
			sum += t.Status.Progress()
		}
		return Running(sum / float64(len(tasks)))
	default:
		return Running(done / total)
	}
}

type Sink interface {
	Report(ctx context.Context, r Report) error
}

type SinkFunc func(ctx context.Context, r Report) error

func (f SinkFunc) Report(ctx context.Context, r Report) error {
	return f(ctx, r)
}

// Tracker accumulates sub-task statuses for one logical operation and
// pushes a fresh Report to its sink on every change. It is owned by a single
// goroutine. A nil *Tracker is valid and ignores every call.
type Tracker struct {
	ctx   context.Context
	sink  Sink
	tasks []SubTask
}

func NewTracker(
	ctx context.Context,
	sink Sink,
	tasks ...SubTask,
) *Tracker {
	t := &Tracker{
		ctx:   ctx,
		sink:  sink,
		tasks: make([]SubTask, len(tasks)),
	}
	copy(t.tasks, tasks)
	for i := range t.tasks {
		t.tasks[i].Status = Pending
	}
	return t
}

func Task(id string, weight float64) SubTask {
	return SubTask{ID: id, Status: Pending, Weight: weight}
}

func (t *Tracker) Start(id string) {
	t.set(id, Running(0))
}

func (t *Tracker) Update(id string, fraction float64) {
	t.set(id, Running(fraction))
}

func (t *Tracker) Step(id string, current, total int) {
	if total <= 0 {
		t.set(id, Running(0))
		return
	}
	t.set(id, Running(float64(current)/float64(total)))
}

func (t *Tracker) Done(id string) {
	t.set(id, Success)
}

func (t *Tracker) Fail(id string) {
	t.set(id, Failure)
}

// Finish marks every unfinished sub-task as failed when err is non-nil, so
// the final report carries an overall failure.
func (t *Tracker) Finish(err error) {
	if t == nil || err == nil {
		return
	}
	changed := false
	for i := range t.tasks {
		if t.tasks[i].Status.State != StateSuccess {
			t.tasks[i].Status = Failure
			changed = true
		}
	}
	if changed {
		t.emit()
	}
}

func (t *Tracker) Snapshot() Report {
	if t == nil {
		return Report{Status: Pending}
	}
	tasks := make([]SubTask, len(t.tasks))
	copy(tasks, t.tasks)
	return Report{
		Status:   Aggregate(tasks),
		SubTasks: tasks,
	}
}

func (t *Tracker) set(id string, s Status) {
	if t == nil {
		return
	}
	for i := range t.tasks {
		if t.tasks[i].ID == id {
			if t.tasks[i].Status == s {
				return
			}
			t.tasks[i].Status = s
			t.emit()
			return
		}
	}
	slog.Debug("progress update for unknown task", "id", id)
}

func (t *Tracker) emit() {
	if t.sink == nil {
		return
	}
	if err := t.sink.Report(t.ctx, t.Snapshot()); err != nil {
		slog.Warn("progress sink", "err", err)
	}
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
