package uci

import (
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/JonasDure/Allied-Mastercomputer/internal/helpers"
)

var (
	// ErrHandshake means the engine never produced the uciok/readyok markers.
	ErrHandshake = errors.New("handshake failed")
	// ErrSearchTimeout means the local watchdog fired before bestmove arrived.
	ErrSearchTimeout = errors.New("search timed out")
)

// Channel is the line transport under the driver. *binary.BinaryRunner
// satisfies it; tests substitute a fake.
type Channel interface {
	WriteLine(input string) Error
	ReadLine(timeout Optional[time.Duration]) (Optional[string], Error)
	Terminate()
}

type State int

const (
	Uninitialized State = iota
	Handshaking
	Ready
	Searching
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Handshaking:
		return "handshaking"
	case Ready:
		return "ready"
	case Searching:
		return "searching"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Driver speaks UCI over a Channel. The session layer serializes protocol
// calls; only Close may race a blocked Search, so the state field has its
// own lock.
type Driver struct {
	channel Channel
	logger  Logger

	stateLock    sync.Mutex
	state        State
	lastPosition string

	elo              Optional[int]
	handshakeTimeout Optional[time.Duration]
	searchTimeout    Optional[time.Duration]
}

type DriverOption func(*Driver)

func WithLogger(logger Logger) DriverOption {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithElo limits the engine's playing strength via UCI_LimitStrength.
func WithElo(elo int) DriverOption {
	return func(d *Driver) {
		d.elo = Some(elo)
	}
}

// WithHandshakeTimeout bounds Initialize. The default is no bound: engines
// may take arbitrarily long to start up.
func WithHandshakeTimeout(timeout time.Duration) DriverOption {
	return func(d *Driver) {
		d.handshakeTimeout = Some(timeout)
	}
}

// WithSearchTimeout adds a local watchdog on Search, independent of any
// movetime hint passed to the engine.
func WithSearchTimeout(timeout time.Duration) DriverOption {
	return func(d *Driver) {
		d.searchTimeout = Some(timeout)
	}
}

func NewDriver(channel Channel, options ...DriverOption) *Driver {
	d := &Driver{
		channel: channel,
		state:   Uninitialized,
	}
	for _, o := range options {
		o(d)
	}
	if d.logger == nil {
		d.logger = &DefaultLogger
	}
	return d
}

func (d *Driver) State() State {
	d.stateLock.Lock()
	defer d.stateLock.Unlock()
	return d.state
}

func (d *Driver) setState(state State) {
	d.stateLock.Lock()
	defer d.stateLock.Unlock()
	d.state = state
}

// moveState transitions from -> to, failing when the driver is in any other
// state.
func (d *Driver) moveState(op string, from State, to State) Error {
	d.stateLock.Lock()
	defer d.stateLock.Unlock()
	if d.state != from {
		return Errorf("%v: driver is %v", op, d.state)
	}
	d.state = to
	return NilError
}

// restoreReady ends a search, unless Close won the race and the driver is
// already Closed.
func (d *Driver) restoreReady() {
	d.stateLock.Lock()
	defer d.stateLock.Unlock()
	if d.state == Searching {
		d.state = Ready
	}
}

// LastPosition returns the last position command sent, eg
// "position startpos moves e2e4 e7e5".
func (d *Driver) LastPosition() string {
	return d.lastPosition
}

// readUntil consumes lines until one equals marker. The deadline is
// optional; without one this blocks until the marker or stream close.
func (d *Driver) readUntil(marker string, deadline Optional[time.Time]) Error {
	for {
		timeout := Empty[time.Duration]()
		if deadline.HasValue() {
			remaining := time.Until(deadline.Value())
			if remaining <= 0 {
				return Errorf("%v not seen before deadline", marker)
			}
			timeout = Some(remaining)
		}

		line, err := d.channel.ReadLine(timeout)
		if !IsNil(err) {
			return Join(Errorf("stream closed waiting for %v", marker), err)
		}
		if line.IsEmpty() {
			return Errorf("%v not seen before deadline", marker)
		}
		if line.Value() == marker {
			return NilError
		}
	}
}

// Initialize performs the opening exchange: uci/uciok then isready/readyok,
// plus ucinewgame and any strength options. Uninitialized -> Ready.
func (d *Driver) Initialize() Error {
	err := d.moveState("initialize", Uninitialized, Handshaking)
	if !IsNil(err) {
		return err
	}

	deadline := Empty[time.Time]()
	if d.handshakeTimeout.HasValue() {
		deadline = Some(time.Now().Add(d.handshakeTimeout.Value()))
	}

	err = d.channel.WriteLine("uci")
	if !IsNil(err) {
		return err
	}
	err = d.readUntil("uciok", deadline)
	if !IsNil(err) {
		return Join(Errorf("%w: no uciok", ErrHandshake), err)
	}

	err = d.channel.WriteLine("isready")
	if !IsNil(err) {
		return err
	}
	err = d.readUntil("readyok", deadline)
	if !IsNil(err) {
		return Join(Errorf("%w: no readyok", ErrHandshake), err)
	}

	err = d.channel.WriteLine("ucinewgame")
	if !IsNil(err) {
		return err
	}

	if d.elo.HasValue() && d.elo.Value() > 0 {
		err = d.channel.WriteLine("setoption name UCI_LimitStrength value true")
		if !IsNil(err) {
			return err
		}
		err = d.channel.WriteLine(fmt.Sprintf("setoption name UCI_Elo value %v", d.elo.Value()))
		if !IsNil(err) {
			return err
		}
	}

	d.logger.Println("engine handshake complete")
	d.setState(Ready)
	return NilError
}

// SetPosition sends the position command. The protocol defines no response,
// so this doesn't block. Re-entrant; each call overwrites the prior
// position wholesale.
func (d *Driver) SetPosition(position Position) Error {
	if state := d.State(); state != Ready {
		return Errorf("setPosition: driver is %v", state)
	}

	command := PositionCommand(position)
	err := d.channel.WriteLine(command)
	if !IsNil(err) {
		return err
	}

	d.lastPosition = command
	return NilError
}

// resync drains stale async output by probing isready and waiting for
// readyok.
func (d *Driver) resync(deadline Optional[time.Time]) Error {
	err := d.channel.WriteLine("isready")
	if !IsNil(err) {
		return err
	}
	return d.readUntil("readyok", deadline)
}

// Search runs one search exchange: resync, go, then read lines until
// bestmove. Progress lines are parsed into Infos; lines that fail to parse
// are skipped rather than aborting the search. Ready -> Searching -> Ready.
func (d *Driver) Search(params SearchParams) (SearchResult, Error) {
	result := SearchResult{}

	err := d.moveState("search", Ready, Searching)
	if !IsNil(err) {
		return result, err
	}

	// A prior search's async output could otherwise interleave with ours.
	err = d.resync(Empty[time.Time]())
	if !IsNil(err) {
		d.setState(Closed)
		return result, err
	}

	err = d.channel.WriteLine(GoCommand(params))
	if !IsNil(err) {
		d.setState(Closed)
		return result, err
	}

	deadline := Empty[time.Time]()
	if d.searchTimeout.HasValue() {
		deadline = Some(time.Now().Add(d.searchTimeout.Value()))
	}

	for {
		timeout := Empty[time.Duration]()
		if deadline.HasValue() {
			remaining := time.Until(deadline.Value())
			if remaining <= 0 {
				remaining = time.Nanosecond
			}
			timeout = Some(remaining)
		}

		line, err := d.channel.ReadLine(timeout)
		if !IsNil(err) {
			d.setState(Closed)
			return result, err
		}

		if line.IsEmpty() {
			// Watchdog fired. Ask the engine to stop, re-sync so the late
			// bestmove doesn't poison the next search, and report the
			// timeout.
			d.logger.Println("search watchdog fired, re-syncing")
			_ = d.channel.WriteLine("stop")
			syncErr := d.resync(Some(time.Now().Add(time.Second)))
			if IsNil(syncErr) {
				d.restoreReady()
			} else {
				d.setState(Closed)
			}
			return result, Errorf("%w: after %v", ErrSearchTimeout, d.searchTimeout.Value())
		}

		if bestMove, ok := BestMoveFromLine(line.Value()); ok {
			result.BestMove = bestMove
			d.restoreReady()
			return result, NilError
		}

		if info, infoErr := InfoFromLine(line.Value()); IsNil(infoErr) {
			result.Infos = append(result.Infos, info)
		}
	}
}

// Close sends quit and tears down the channel. Idempotent; safe to call
// while a search is blocked on ReadLine, which then fails with the
// channel-closed error.
func (d *Driver) Close() {
	if d.State() == Closed {
		return
	}
	d.setState(Closed)

	// Best effort; the engine may already be gone.
	_ = d.channel.WriteLine("quit")
	d.channel.Terminate()
}
