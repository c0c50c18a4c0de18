package driver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/agentgraph/agerr"
	"github.com/c360studio/agentgraph/config"
	"github.com/c360studio/agentgraph/events"
)

// Spec describes one invocation: the specialist command to run and the
// sanitized prompt to feed it on stdin.
type Spec struct {
	Command     string
	Args        []string
	Dir         string
	Env         []string
	Prompt      string
	TaskID      string
	WorkerID    string
	ProjectID   string
	Description string // used only to classify complex vs. standard runtime budget
}

// Result is the outcome of a completed invocation.
type Result struct {
	ExitCode int
	Tail     []Line
	Err      error
}

// Driver runs specialist subprocesses and streams their categorized
// output via a direct os/exec subprocess.
type Driver struct {
	cfg *config.TimeoutsConfig
	bus *events.Bus

	mu          sync.Mutex
	invocations map[string]*Invocation
}

// New creates a Driver bound to cfg's timeout policy, optionally emitting
// lifecycle events to bus (nil is a valid no-op bus).
func New(cfg *config.TimeoutsConfig, bus *events.Bus) *Driver {
	return &Driver{cfg: cfg, bus: bus, invocations: make(map[string]*Invocation)}
}

// Invoke spawns spec's command, streams and categorizes its combined
// stdout/stderr, and enforces the dual timeout policy (runtime budget
// lengthened for complex tasks, inactivity timeout independent of it).
// It blocks until the process exits, is terminated for a timeout, or ctx
// is cancelled.
func (d *Driver) Invoke(ctx context.Context, spec Spec) (*Result, error) {
	runtimeBudget := d.cfg.InvocationMaxRuntime
	if IsComplex(spec.Description) {
		runtimeBudget = d.cfg.InvocationMaxRuntimeComplex
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	id := uuid.NewString()
	inv := newInvocation(id, spec.TaskID, spec.WorkerID, spec.Command, cancel)

	d.mu.Lock()
	d.invocations[id] = inv
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.invocations, id)
		d.mu.Unlock()
	}()

	cmd := exec.CommandContext(runCtx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdin = strings.NewReader(spec.Prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, agerr.Internal(fmt.Sprintf("stdout pipe: %v", err)).WithCause(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, agerr.Internal(fmt.Sprintf("stderr pipe: %v", err)).WithCause(err)
	}

	if err := cmd.Start(); err != nil {
		return nil, agerr.Internal(fmt.Sprintf("start process: %v", err)).WithCause(err)
	}

	d.emit(spec.ProjectID, events.KindTaskStarted, spec.TaskID, spec.WorkerID, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go d.streamLines(&wg, inv, spec, stdout)
	go d.streamLines(&wg, inv, spec, stderr)

	heartbeatDone := make(chan struct{})
	go d.heartbeatLoop(runCtx, spec, inv, heartbeatDone)

	// processDone closes once cmd.Wait returns on its own, so watchTimeouts
	// can race a timeout against natural completion without deadlocking.
	processDone := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(processDone)
	}()

	timeoutErr := d.watchTimeouts(runCtx, cancel, inv, runtimeBudget, processDone)

	wg.Wait()
	close(heartbeatDone)
	<-processDone

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	inv.finish(exitCode, waitErr)
	tail := inv.Tail()

	if timeoutErr != nil {
		d.emit(spec.ProjectID, events.KindTaskFailed, spec.TaskID, spec.WorkerID, map[string]any{"reason": timeoutErr.Error()})
		return &Result{ExitCode: exitCode, Tail: tail, Err: timeoutErr}, timeoutErr
	}
	if ctx.Err() != nil {
		cancelErr := agerr.Cancelled("invocation cancelled")
		d.emit(spec.ProjectID, events.KindTaskFailed, spec.TaskID, spec.WorkerID, map[string]any{"reason": "cancelled"})
		return &Result{ExitCode: exitCode, Tail: tail, Err: cancelErr}, cancelErr
	}
	if exitCode != 0 {
		exitErr := agerr.WorkerExitError(exitCode, fmt.Sprintf("specialist exited with code %d", exitCode))
		d.emit(spec.ProjectID, events.KindTaskFailed, spec.TaskID, spec.WorkerID, map[string]any{"exit_code": exitCode})
		return &Result{ExitCode: exitCode, Tail: tail, Err: exitErr}, exitErr
	}

	d.emit(spec.ProjectID, events.KindTaskCompleted, spec.TaskID, spec.WorkerID, nil)
	return &Result{ExitCode: exitCode, Tail: tail}, nil
}

func (d *Driver) streamLines(wg *sync.WaitGroup, inv *Invocation, spec Spec, r io.Reader) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		text := scanner.Text()
		cat := categorize(text)
		line := Line{Category: cat, Text: text, Timestamp: time.Now()}
		inv.appendLine(line)
		if cat.important() {
			d.emit(spec.ProjectID, events.KindTaskProgress, spec.TaskID, spec.WorkerID, map[string]any{
				"category": string(cat),
				"line":     text,
			})
		}
	}
}

func (d *Driver) heartbeatLoop(ctx context.Context, spec Spec, inv *Invocation, done <-chan struct{}) {
	ticker := time.NewTicker(d.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			d.emit(spec.ProjectID, events.KindWorkerHeartbeat, spec.TaskID, spec.WorkerID, map[string]any{
				"last_activity": inv.LastActivity(),
			})
		}
	}
}

// watchTimeouts polls for runtime and inactivity overruns and cancels
// runCtx on either, returning the classifying error. It returns nil once
// processDone closes (the invocation finished on its own) or the parent
// context is done before any timeout fires.
func (d *Driver) watchTimeouts(runCtx context.Context, cancel context.CancelFunc, inv *Invocation, runtimeBudget time.Duration, processDone <-chan struct{}) error {
	inactivityBudget := d.cfg.InvocationMaxInactivity
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-processDone:
			return nil
		case <-runCtx.Done():
			return nil
		case <-ticker.C:
			if time.Since(inv.startedAt) > runtimeBudget {
				cancel()
				return agerr.Timeout(agerr.TimeoutRuntime, "invocation exceeded max runtime")
			}
			if time.Since(inv.LastActivity()) > inactivityBudget {
				cancel()
				return agerr.Timeout(agerr.TimeoutInactivity, "invocation exceeded max inactivity")
			}
		}
	}
}

func (d *Driver) emit(projectID string, kind events.Kind, taskID, workerID string, payload map[string]any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(events.Event{Kind: kind, ProjectID: projectID, TaskID: taskID, WorkerID: workerID, Payload: payload})
}

// emergencyCleanupGrace is how long Shutdown waits after cancelling tracked
// invocation contexts before sweeping for specialist processes that outlived
// them — a specialist that forks a detached child leaves it running past
// its parent's context cancellation.
const emergencyCleanupGrace = 2 * time.Second

// Shutdown cancels every tracked invocation's context, then performs an
// emergency sweep: it enumerates OS processes matching each cancelled
// invocation's specialist command and terminates any still alive, so a
// forked or detached orphan cannot outlive the driver.
func (d *Driver) Shutdown() {
	d.mu.Lock()
	commands := make(map[string]bool, len(d.invocations))
	for _, inv := range d.invocations {
		inv.cancel()
		if inv.command != "" {
			commands[inv.command] = true
		}
	}
	d.mu.Unlock()

	if len(commands) == 0 {
		return
	}
	time.Sleep(emergencyCleanupGrace)
	for cmd := range commands {
		d.killOrphans(cmd)
	}
}

// killOrphans enumerates OS processes whose command line matches name via
// pgrep and sends them SIGKILL. Used only from Shutdown's emergency cleanup
// path, after the owning context has already been cancelled.
func (d *Driver) killOrphans(name string) {
	out, err := exec.Command("pgrep", "-f", name).Output()
	if err != nil {
		return // no match, or pgrep unavailable; nothing to clean up
	}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		if proc, err := os.FindProcess(pid); err == nil {
			proc.Kill()
		}
	}
}

// Active returns the number of currently tracked invocations.
func (d *Driver) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.invocations)
}
