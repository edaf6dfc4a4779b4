// Package runner owns live sequence executions: it starts runs, fans their
// messages out to subscribers, honors termination requests, and records
// finished runs in the history journal.
package runner

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"seqflow/internal/history"
	"seqflow/internal/sequence"
	"seqflow/internal/storage"
)

// Event is one execution message together with the run it belongs to.
type Event struct {
	RunID         string           `json:"run_id"`
	SequenceLabel string           `json:"sequence_label"`
	Message       sequence.Message `json:"message"`
}

// Handler is a callback for run events.
type Handler func(Event)

// RunInfo describes a live run.
type RunInfo struct {
	ID            string    `json:"id"`
	SequenceLabel string    `json:"sequence_label"`
	StartedAt     time.Time `json:"started_at"`
}

type run struct {
	id      string
	label   string
	comm    *sequence.BufferedChannel
	started time.Time
}

// Service manages sequence executions.
type Service struct {
	mgr    *storage.SequenceManager
	hist   history.Store // may be nil
	logger *slog.Logger

	mu   sync.Mutex
	runs map[string]*run
	wg   sync.WaitGroup

	hmu      sync.RWMutex
	handlers map[uint64]Handler
	nextID   uint64

	runCounter atomic.Uint64
}

// NewService creates a runner service. hist may be nil to disable the
// journal.
func NewService(mgr *storage.SequenceManager, hist history.Store, logger *slog.Logger) *Service {
	return &Service{
		mgr:      mgr,
		hist:     hist,
		logger:   logger.With("component", "runner"),
		runs:     make(map[string]*run),
		handlers: make(map[uint64]Handler),
	}
}

// OnMessage registers a handler that receives every run event.
// Returns an unsubscribe function.
func (s *Service) OnMessage(handler Handler) func() {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = handler
	return func() {
		s.hmu.Lock()
		defer s.hmu.Unlock()
		delete(s.handlers, id)
	}
}

func (s *Service) emit(ev Event) {
	s.hmu.RLock()
	defer s.hmu.RUnlock()
	for _, h := range s.handlers {
		h(ev)
	}
}

// Start loads and validates the named sequence and begins executing it on
// its own goroutine with a fresh context populated from vars. Returns the
// run ID.
func (s *Service) Start(label string, vars map[string]any) (string, error) {
	seq, err := s.mgr.Load(label)
	if err != nil {
		return "", fmt.Errorf("load sequence: %w", err)
	}
	if err := seq.CheckCorrectness(); err != nil {
		return "", err
	}

	ctx := sequence.NewContext()
	for name, raw := range vars {
		v, err := sequence.ValueOf(raw)
		if err != nil {
			return "", fmt.Errorf("variable %q: %w", name, err)
		}
		if err := ctx.Set(name, v); err != nil {
			return "", err
		}
	}

	r := &run{
		id:      fmt.Sprintf("run-%d-%04d", time.Now().Unix(), s.runCounter.Add(1)),
		label:   seq.Label(),
		comm:    sequence.NewBufferedChannel(256),
		started: time.Now(),
	}

	s.mu.Lock()
	s.runs[r.id] = r
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(r, seq, ctx)

	s.logger.Info("run started", "id", r.id, "sequence", r.label)
	return r.id, nil
}

func (s *Service) execute(r *run, seq *sequence.Sequence, ctx *sequence.Context) {
	defer s.wg.Done()

	rec := &history.RunRecord{
		ID:            r.id,
		SequenceLabel: r.label,
		StartedAt:     r.started,
	}

	handle := func(msg sequence.Message) {
		rec.Messages = append(rec.Messages, msg)
		s.emit(Event{RunID: r.id, SequenceLabel: r.label, Message: msg})
	}

	exec := sequence.NewExecutor(s.logger)
	errCh := make(chan error, 1)
	outCh := make(chan sequence.Outcome, 1)
	go func() {
		outcome, err := exec.Run(seq, ctx, r.comm)
		outCh <- outcome
		errCh <- err
	}()

	var outcome sequence.Outcome
	var err error
pump:
	for {
		select {
		case msg := <-r.comm.Messages():
			handle(msg)
		case outcome = <-outCh:
			err = <-errCh
			break pump
		}
	}
	for {
		msg, ok := r.comm.TryReceive()
		if !ok {
			break
		}
		handle(msg)
	}

	s.mu.Lock()
	delete(s.runs, r.id)
	s.mu.Unlock()

	rec.FinishedAt = time.Now()
	rec.Outcome = outcome.String()
	if err != nil {
		rec.Error = err.Error()
	}

	if s.hist != nil {
		if serr := s.hist.SaveRun(rec); serr != nil {
			s.logger.Error("save run record", "id", r.id, "err", serr)
		}
	}
	s.logger.Info("run finished", "id", r.id, "sequence", r.label, "outcome", rec.Outcome)
}

// Terminate raises the termination signal for a live run. The run winds
// down cooperatively and disappears from Active once finished.
func (s *Service) Terminate(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("no active run %q", runID)
	}
	r.comm.RequestTermination()
	s.logger.Info("termination requested", "id", runID)
	return nil
}

// Active returns the currently executing runs, sorted by ID.
func (s *Service) Active() []RunInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]RunInfo, 0, len(s.runs))
	for _, r := range s.runs {
		infos = append(infos, RunInfo{ID: r.id, SequenceLabel: r.label, StartedAt: r.started})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Stop terminates all active runs and waits for them to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	for _, r := range s.runs {
		r.comm.RequestTermination()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("runner stopped")
}
