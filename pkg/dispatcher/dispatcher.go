// Package dispatcher tracks the lifecycle of asynchronous remote commands.
//
// A remote command is accepted by the backend long before the vehicle acts on it. The dispatcher
// owns the submit, correlation id, poll, terminal-state protocol: it enforces one in-flight
// command per (vin, operation), polls the region's action-status endpoint, and never lets a
// command leave a terminal state.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/dahlb/kia-hyundai-go/internal/log"
	"github.com/dahlb/kia-hyundai-go/pkg/connector"
	"github.com/dahlb/kia-hyundai-go/pkg/profile"
	"github.com/dahlb/kia-hyundai-go/pkg/protocol"
)

// DefaultPollTries bounds the internal retries of a single CheckStatus poll.
const DefaultPollTries = 3

// DefaultWaitInterval spaces the polls of WaitForCompletion.
const DefaultWaitInterval = 5 * time.Second

// Caller sends one shaped request on behalf of an authenticated account. Implemented by
// account.Account; the indirection keeps this package free of session handling.
type Caller interface {
	Call(ctx context.Context, op profile.Operation, rc profile.RequestContext, params any) (*connector.Response, error)
}

type commandKey struct {
	vin string
	op  profile.Operation
}

// Command is one tracked remote command. All mutation happens inside the dispatcher.
type Command struct {
	VIN         string
	Operation   profile.Operation
	ID          string
	SubmittedAt time.Time

	rc      profile.RequestContext
	machine *fsm.FSM
	reason  string
}

// State returns the command's current lifecycle state.
func (c *Command) State() protocol.ActionState {
	return protocol.ActionState(c.machine.Current())
}

// Reason explains a FAILED or TIMED_OUT state.
func (c *Command) Reason() string { return c.reason }

const (
	eventRelay   = "relay"
	eventSucceed = "succeed"
	eventFail    = "fail"
	eventTimeout = "timeout"
)

func newMachine(vin string, op profile.Operation) *fsm.FSM {
	pending := string(protocol.StatePending)
	inProgress := string(protocol.StateInProgress)
	return fsm.NewFSM(
		pending,
		fsm.Events{
			{Name: eventRelay, Src: []string{pending}, Dst: inProgress},
			{Name: eventSucceed, Src: []string{pending, inProgress}, Dst: string(protocol.StateSucceeded)},
			{Name: eventFail, Src: []string{pending, inProgress}, Dst: string(protocol.StateFailed)},
			{Name: eventTimeout, Src: []string{pending, inProgress}, Dst: string(protocol.StateTimedOut)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debug("Command %s/%s: %s -> %s", vin, op, e.Src, e.Dst)
			},
		},
	)
}

// Dispatcher submits and tracks remote commands for one account.
type Dispatcher struct {
	caller    Caller
	prof      *profile.Profile
	pollTries uint

	lock     sync.Mutex
	commands map[string]*Command
	active   map[commandKey]string
}

type Option func(*Dispatcher)

// WithPollTries overrides the per-poll retry bound.
func WithPollTries(tries uint) Option {
	return func(d *Dispatcher) { d.pollTries = tries }
}

func New(caller Caller, prof *profile.Profile, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		caller:    caller,
		prof:      prof,
		pollTries: DefaultPollTries,
		commands:  map[string]*Command{},
		active:    map[commandKey]string{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit sends one remote command and begins tracking it. The returned correlation id feeds
// CheckStatus and WaitForCompletion. Submission is never retried internally: a transport failure
// surfaces as SubmitError and the command is not tracked, since the backend may or may not have
// accepted it.
func (d *Dispatcher) Submit(ctx context.Context, op profile.Operation, rc profile.RequestContext, params any) (string, error) {
	if !d.prof.Supports(op) || !d.prof.IsCommand(op) {
		return "", &protocol.UnsupportedOperationError{Operation: string(op), Variant: string(d.prof.Variant())}
	}
	key := commandKey{vin: rc.VIN, op: op}

	d.lock.Lock()
	if pendingID, ok := d.active[key]; ok {
		if pending := d.commands[pendingID]; pending != nil && !pending.State().Terminal() {
			d.lock.Unlock()
			return "", &protocol.ConflictError{VIN: rc.VIN, Operation: string(op), PendingID: pendingID}
		}
	}
	d.lock.Unlock()

	resp, err := d.caller.Call(ctx, op, rc, params)
	if err != nil {
		return "", &protocol.SubmitError{Err: err}
	}

	id := d.prof.CorrelationID(resp)
	synchronous := !d.prof.TracksActions()
	if synchronous {
		// The backend confirmed the command in the submit response itself; fabricate an id so the
		// caller-facing protocol stays uniform.
		id = uuid.NewString()
	}
	if id == "" {
		return "", &protocol.SubmitError{Err: protocol.NewError("response carried no correlation id", true, false)}
	}

	rc.XID = id
	command := &Command{
		VIN:         rc.VIN,
		Operation:   op,
		ID:          id,
		SubmittedAt: time.Now(),
		rc:          rc,
		machine:     newMachine(rc.VIN, op),
	}
	if synchronous {
		_ = command.machine.Event(ctx, eventSucceed)
	}

	d.lock.Lock()
	// A newer submission for the same slot supersedes the old terminal command.
	if oldID, ok := d.active[key]; ok && oldID != id {
		delete(d.commands, oldID)
	}
	d.commands[id] = command
	d.active[key] = id
	d.lock.Unlock()

	log.Info("Submitted %s for %s as %s", op, rc.VIN, id)
	return id, nil
}

// Status reports the tracked state of a command without touching the network.
func (d *Dispatcher) Status(id string) (*Command, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	command, ok := d.commands[id]
	return command, ok
}

// CheckStatus polls the backend for the command's progress and returns the resulting state.
// Terminal states are answered from memory. Transient poll failures are retried with exponential
// backoff up to the configured bound; exhausting the bound marks the command FAILED with reason
// "poll unreachable" rather than leaving it pending forever.
func (d *Dispatcher) CheckStatus(ctx context.Context, id string) (protocol.ActionState, error) {
	d.lock.Lock()
	command, ok := d.commands[id]
	d.lock.Unlock()
	if !ok {
		return "", protocol.ErrUnknownCommand
	}
	if state := command.State(); state.Terminal() {
		return state, nil
	}

	result, err := backoff.Retry(ctx, func() (protocol.PollResult, error) {
		resp, err := d.caller.Call(ctx, profile.OpActionStatus, command.rc, nil)
		if err != nil {
			if protocol.Temporary(err) {
				return protocol.PollResult{}, err
			}
			return protocol.PollResult{}, backoff.Permanent(err)
		}
		return d.prof.DecodeActionStatus(resp.Body)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(d.pollTries))
	if err != nil {
		if ctx.Err() != nil {
			return command.State(), ctx.Err()
		}
		d.applyFailure(ctx, command, "poll unreachable")
		return command.State(), nil
	}

	d.applyResult(ctx, command, result)
	return command.State(), nil
}

// WaitForCompletion polls until the command reaches a terminal state or ctx's deadline expires.
// Deadline expiry marks the command TIMED_OUT: the client gives up, the vehicle may still act.
// A plain cancellation abandons the loop without transitioning the command, so a later
// CheckStatus can pick up where this one left off.
func (d *Dispatcher) WaitForCompletion(ctx context.Context, id string, interval time.Duration) (protocol.ActionState, error) {
	if interval <= 0 {
		interval = DefaultWaitInterval
	}
	for {
		state, err := d.CheckStatus(ctx, id)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return d.applyTimeout(id), nil
			}
			return state, err
		}
		if state.Terminal() {
			return state, nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return d.applyTimeout(id), nil
			}
			if command, ok := d.Status(id); ok {
				state = command.State()
			}
			return state, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (d *Dispatcher) applyTimeout(id string) protocol.ActionState {
	d.lock.Lock()
	defer d.lock.Unlock()
	command, ok := d.commands[id]
	if !ok {
		return protocol.StateTimedOut
	}
	if !command.State().Terminal() {
		command.reason = "client gave up waiting"
		_ = command.machine.Event(context.Background(), eventTimeout)
	}
	return command.State()
}

func (d *Dispatcher) applyFailure(ctx context.Context, command *Command, reason string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if command.State().Terminal() {
		return
	}
	command.reason = reason
	_ = command.machine.Event(ctx, eventFail)
}

func (d *Dispatcher) applyResult(ctx context.Context, command *Command, result protocol.PollResult) {
	d.lock.Lock()
	defer d.lock.Unlock()
	current := command.State()
	next := protocol.NextState(current, result)
	if next == current {
		return
	}
	var event string
	switch next {
	case protocol.StateInProgress:
		event = eventRelay
	case protocol.StateSucceeded:
		event = eventSucceed
	case protocol.StateFailed:
		event = eventFail
		command.reason = result.Reason
	default:
		return
	}
	_ = command.machine.Event(ctx, event)
}
