// Package orchestrate owns the lifecycle of executions: it spawns the
// agent process for each chain link, wires its output into the message
// bus and log files, starts the dialect normalizer, and records the
// outcome. It is also the registry the streaming server queries for
// live buses.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avohra/agentrelay/internal/action"
	"github.com/avohra/agentrelay/internal/bus"
	"github.com/avohra/agentrelay/internal/config"
	"github.com/avohra/agentrelay/internal/normalize"
	"github.com/avohra/agentrelay/internal/proc"
	"github.com/avohra/agentrelay/internal/store"
)

// ErrNotRunning is returned by Stop for ids with no live process.
var ErrNotRunning = errors.New("orchestrate: execution not running")

// stopTimeout bounds the escalated kill sequence.
const stopTimeout = 30 * time.Second

// normalizeDrainTimeout bounds the wait for the normalizer's trailing
// patches after raw input ends.
const normalizeDrainTimeout = 5 * time.Second

// Running is the in-memory state of one live execution.
type Running struct {
	ID  string
	Bus *bus.Store

	handle   *proc.Handle
	cancel   context.CancelFunc
	pumps    sync.WaitGroup
	normDone <-chan struct{}

	mu      sync.Mutex
	session string
	stopped bool
}

func (r *Running) setSession(id string) {
	r.mu.Lock()
	r.session = id
	r.mu.Unlock()
}

// Session returns the agent session id once the normalizer has
// discovered it, or "".
func (r *Running) Session() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

func (r *Running) markStopped() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
}

func (r *Running) wasStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Orchestrator supervises all executions of one daemon process.
type Orchestrator struct {
	st  *store.Store
	cfg *config.Settings

	// LinkStarted, when set before the first Start call, is invoked for
	// every chain link as its process comes up. Callers use it to follow
	// a chain across its per-link buses.
	LinkStarted func(id string, b *bus.Store)

	mu      sync.Mutex
	running map[string]*Running
	buses   map[string]*bus.Store // retained after finish for replay
	wg      sync.WaitGroup
}

// New builds an orchestrator over the given store and settings.
func New(st *store.Store, cfg *config.Settings) *Orchestrator {
	return &Orchestrator{
		st:      st,
		cfg:     cfg,
		running: make(map[string]*Running),
		buses:   make(map[string]*bus.Store),
	}
}

// Start launches the first link of the chain synchronously, so spawn
// failures surface to the caller, then drives the remaining links in
// the background. Returns the first execution id.
func (o *Orchestrator) Start(ctx context.Context, chain *action.Action, workdir string) (string, error) {
	if chain == nil {
		return "", errors.New("orchestrate: empty action chain")
	}
	run, err := o.launch(ctx, chain.Step, workdir)
	if err != nil {
		return "", err
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.drive(ctx, run, chain, workdir)
	}()
	return run.ID, nil
}

// launch creates the execution row, spawns the process, and wires bus,
// log files and normalizer for one chain link.
func (o *Orchestrator) launch(ctx context.Context, step action.Step, workdir string) (*Running, error) {
	o.applyProfile(&step)

	spec, err := action.BuildSpec(step, workdir)
	if err != nil {
		return nil, err
	}
	spec.StopGrace = o.cfg.StopGrace

	id := uuid.NewString()
	row := &store.Execution{
		ID:           id,
		ExecutorType: step.ExecutorType,
		Prompt:       step.Prompt,
		WorkDir:      workdir,
		SessionID:    step.SessionID,
	}
	if step.Kind == action.KindScriptRequest {
		row.ExecutorType = normalize.ExecutorScript
		row.Prompt = step.Script
	}
	if err := o.st.CreateExecution(row); err != nil {
		return nil, err
	}

	b := bus.NewStore(o.cfg.BusByteBudget)

	handle, err := proc.Start(ctx, spec)
	if err != nil {
		b.Push(bus.Stderr(err.Error() + "\n"))
		b.Push(bus.Finished())
		if dbErr := o.st.UpdateCompletion(id, store.StatusFailed, -1); dbErr != nil {
			slog.Error("record spawn failure", "execution", id, "error", dbErr)
		}
		o.mu.Lock()
		o.buses[id] = b
		o.mu.Unlock()
		return nil, fmt.Errorf("execution %s: %w", id, err)
	}

	linkCtx, cancel := context.WithCancel(ctx)
	run := &Running{ID: id, Bus: b, handle: handle, cancel: cancel}

	stdout, _ := handle.Stdout()
	stderr, _ := handle.Stderr()
	stdoutLog, err := o.st.OpenLog(id, store.StreamStdout)
	if err != nil {
		cancel()
		handle.Kill()
		return nil, err
	}
	stderrLog, err := o.st.OpenLog(id, store.StreamStderr)
	if err != nil {
		stdoutLog.Close()
		cancel()
		handle.Kill()
		return nil, err
	}

	// The idle watchdog rides the stdout pump: an agent that goes
	// silent past the timeout gets the full stop escalation.
	var out io.Reader = stdout
	var idle *proc.IdleReader
	if o.cfg.IdleTimeout > 0 {
		idle = proc.NewIdleReader(stdout, o.cfg.IdleTimeout, func() {
			slog.Warn("execution idle, stopping", "execution", id, "timeout", o.cfg.IdleTimeout)
			stopCtx, done := context.WithTimeout(context.Background(), stopTimeout)
			defer done()
			if err := handle.Stop(stopCtx); err != nil {
				slog.Error("stop idle execution", "execution", id, "error", err)
			}
		})
		out = idle
	}

	run.pumps.Add(2)
	go func() {
		defer run.pumps.Done()
		defer stdoutLog.Close()
		if idle != nil {
			defer idle.Stop()
		}
		b.CopyFrom(linkCtx, io.TeeReader(out, stdoutLog), bus.MsgStdout)
	}()
	go func() {
		defer run.pumps.Done()
		defer stderrLog.Close()
		b.CopyFrom(linkCtx, io.TeeReader(stderr, stderrLog), bus.MsgStderr)
	}()

	run.normDone = normalize.For(row.ExecutorType).Start(linkCtx, b, workdir)
	go o.watchSession(linkCtx, run)

	o.mu.Lock()
	o.running[id] = run
	o.buses[id] = b
	o.mu.Unlock()

	slog.Info("execution started", "execution", id, "executor", row.ExecutorType, "pid", handle.PID())
	if o.LinkStarted != nil {
		o.LinkStarted(id, b)
	}
	return run, nil
}

// watchSession forwards the session id discovered by the normalizer
// into the database. Exits when the bus finishes.
func (o *Orchestrator) watchSession(ctx context.Context, run *Running) {
	for msg := range run.Bus.HistoryPlusStream(ctx) {
		if msg.Type != bus.MsgSessionID {
			continue
		}
		run.setSession(msg.Text)
		if err := o.st.SetSessionID(run.ID, msg.Text); err != nil {
			slog.Error("persist session id", "execution", run.ID, "error", err)
		}
	}
}

// drive waits out the current link and launches each subsequent one.
func (o *Orchestrator) drive(ctx context.Context, run *Running, act *action.Action, workdir string) {
	for {
		status := o.finishLink(ctx, run)

		next := act.Next
		if next == nil {
			return
		}
		if status.Killed {
			slog.Warn("chain halted, link killed", "execution", run.ID)
			return
		}

		step := next.Step
		if step.Kind == action.KindFollowUpRequest && step.SessionID == "" {
			step.SessionID = run.Session()
		}

		nextRun, err := o.launch(ctx, step, workdir)
		if err != nil {
			slog.Error("chain halted, spawn failed", "after", run.ID, "error", err)
			return
		}
		run, act = nextRun, next
	}
}

// finishLink waits for process exit, drains the pumps, closes out the
// bus and records the terminal status.
func (o *Orchestrator) finishLink(ctx context.Context, run *Running) proc.ExitStatus {
	status, err := run.handle.Wait(ctx)
	if err != nil {
		// Daemon shutdown: make sure the child dies with us.
		run.cancel()
		run.handle.Kill()
		waitCtx, done := context.WithTimeout(context.Background(), stopTimeout)
		status, _ = run.handle.Wait(waitCtx)
		done()
	}
	run.pumps.Wait()

	// End raw input, then let the normalizer flush its tail before the
	// terminal marker goes out. Every entry patch precedes Finished.
	run.Bus.Push(bus.StreamEnd())
	select {
	case <-run.normDone:
	case <-time.After(normalizeDrainTimeout):
		slog.Warn("normalizer drain timed out", "execution", run.ID)
	}

	o.mu.Lock()
	delete(o.running, run.ID)
	o.mu.Unlock()

	dbStatus := store.StatusCompleted
	switch {
	case status.Killed && run.wasStopped():
		dbStatus = store.StatusKilled
	case status.Killed || status.Code != 0:
		dbStatus = store.StatusFailed
	}
	if err := o.st.UpdateCompletion(run.ID, dbStatus, status.Code); err != nil {
		slog.Error("record completion", "execution", run.ID, "error", err)
	}
	o.st.RedactExecutionLogs(run.ID)
	run.Bus.Push(bus.Finished())

	slog.Info("execution finished", "execution", run.ID, "status", dbStatus, "exit_code", status.Code)
	return status
}

// Stop removes the execution from the registry and kills its process
// with signal escalation. The registry entry goes first so concurrent
// queries never observe a half-killed process.
func (o *Orchestrator) Stop(ctx context.Context, id string) error {
	o.mu.Lock()
	run, ok := o.running[id]
	if ok {
		delete(o.running, id)
	}
	o.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}

	run.markStopped()
	stopCtx, done := context.WithTimeout(ctx, stopTimeout)
	defer done()
	return run.handle.Stop(stopCtx)
}

// Bus returns the message bus for an execution, live or finished, or
// nil if this daemon never ran it.
func (o *Orchestrator) Bus(id string) *bus.Store {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buses[id]
}

// IsRunning reports whether the execution has a live process.
func (o *Orchestrator) IsRunning(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[id]
	return ok
}

// RecoverOrphans marks executions left running by a previous daemon as
// failed. Their processes died with that daemon; there is nothing to
// re-attach to.
func (o *Orchestrator) RecoverOrphans() error {
	n, err := o.st.MarkOrphansFailed()
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("recovered orphaned executions", "count", n)
	}
	return nil
}

// Wait blocks until every started chain has run to completion.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown stops every live execution and waits for chain drivers to
// settle.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	ids := make([]string, 0, len(o.running))
	for id := range o.running {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		if err := o.Stop(ctx, id); err != nil && !errors.Is(err, ErrNotRunning) {
			slog.Error("stop execution during shutdown", "execution", id, "error", err)
		}
	}
	o.wg.Wait()
}

func (o *Orchestrator) applyProfile(step *action.Step) {
	p := o.cfg.Profile(step.ExecutorType)
	if p == nil {
		return
	}
	if step.Model == "" {
		step.Model = p.Model
	}
	if len(p.Env) > 0 {
		merged := make(map[string]string, len(p.Env)+len(step.Env))
		for k, v := range p.Env {
			merged[k] = v
		}
		for k, v := range step.Env {
			merged[k] = v
		}
		step.Env = merged
	}
}
