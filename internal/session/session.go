package session

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/JonasDure/Allied-Mastercomputer/internal/binary"
	"github.com/JonasDure/Allied-Mastercomputer/internal/clock"
	. "github.com/JonasDure/Allied-Mastercomputer/internal/helpers"
	"github.com/JonasDure/Allied-Mastercomputer/internal/uci"
)

// ErrSessionBusy means a search was requested while another was in flight.
// The caller retries once the first search returns.
var ErrSessionBusy = errors.New("session busy")

var _ uci.Channel = (*binary.BinaryRunner)(nil)

// Session owns one engine process, the driver speaking to it, and the game
// clock. The clock runs freely during a search; searches themselves are
// single-flight.
type Session struct {
	driver *uci.Driver
	clock  *clock.Clock
	logger Logger

	searchLock sync.Mutex
}

type SessionOption func(*options)

type options struct {
	logger        Logger
	driverOptions []uci.DriverOption
}

func WithLogger(logger Logger) SessionOption {
	return func(o *options) {
		o.logger = logger
		o.driverOptions = append(o.driverOptions, uci.WithLogger(logger))
	}
}

// WithElo limits the engine's strength for the session.
func WithElo(elo int) SessionOption {
	return func(o *options) {
		o.driverOptions = append(o.driverOptions, uci.WithElo(elo))
	}
}

// WithHandshakeTimeout bounds session creation instead of waiting
// indefinitely for a misbehaving engine.
func WithHandshakeTimeout(timeout time.Duration) SessionOption {
	return func(o *options) {
		o.driverOptions = append(o.driverOptions, uci.WithHandshakeTimeout(timeout))
	}
}

// WithSearchTimeout adds a local watchdog to every BestMove call.
func WithSearchTimeout(timeout time.Duration) SessionOption {
	return func(o *options) {
		o.driverOptions = append(o.driverOptions, uci.WithSearchTimeout(timeout))
	}
}

// NewSession spawns the engine at path and performs the handshake. Spawn or
// handshake failure is fatal: the process is torn down and no session is
// returned.
func NewSession(path string, sessionOptions ...SessionOption) (*Session, Error) {
	o := &options{}
	for _, option := range sessionOptions {
		option(o)
	}
	if o.logger == nil {
		o.logger = &DefaultLogger
	}

	runner, err := binary.SetupBinaryRunner(path, filepath.Base(path), []string{},
		binary.WithLogger(o.logger))
	if !IsNil(err) {
		return nil, err
	}

	driver := uci.NewDriver(runner, o.driverOptions...)
	err = driver.Initialize()
	if !IsNil(err) {
		runner.Terminate()
		return nil, err
	}

	o.logger.Println("engine session ready:", path)

	return &Session{
		driver: driver,
		clock:  clock.NewClock(clock.WithLogger(o.logger)),
		logger: o.logger,
	}, NilError
}

// newSession wires a session from parts; tests use it with a fake channel.
func newSession(driver *uci.Driver, gameClock *clock.Clock, logger Logger) *Session {
	return &Session{
		driver: driver,
		clock:  gameClock,
		logger: logger,
	}
}

// SetPosition replaces the engine's position: moves on top of the standard
// initial position, or of fen when given.
func (s *Session) SetPosition(moves []string, fen Optional[string]) Error {
	position := uci.Position{Moves: moves}
	if fen.HasValue() {
		position.Fen = fen.Value()
	}
	return s.driver.SetPosition(position)
}

// LastPosition returns the last position command sent to the engine.
func (s *Session) LastPosition() string {
	return s.driver.LastPosition()
}

// BestMove runs one search. At most one search is in flight; a concurrent
// call fails immediately with ErrSessionBusy instead of queueing, since the
// wire protocol can't interleave two searches.
func (s *Session) BestMove(params uci.SearchParams) (uci.SearchResult, Error) {
	if !s.searchLock.TryLock() {
		return uci.SearchResult{}, Errorf("%w: a search is already in flight", ErrSessionBusy)
	}
	defer s.searchLock.Unlock()

	return s.driver.Search(params)
}

func (s *Session) ConfigureClock(minutes int, incrementSeconds int) {
	s.clock.Configure(minutes, incrementSeconds)
}

func (s *Session) StartClock() {
	s.clock.Start()
}

func (s *Session) StopClock() {
	s.clock.Stop()
}

// SwitchSide applies the increment to the side that just moved and makes
// the other side active. The caller decides when this happens; search
// completion doesn't switch sides implicitly.
func (s *Session) SwitchSide() clock.Side {
	return s.clock.SwitchSide()
}

func (s *Session) Times() (time.Duration, time.Duration) {
	return s.clock.Times()
}

func (s *Session) ActiveSide() clock.Side {
	return s.clock.Active()
}

func (s *Session) ClockRunning() bool {
	return s.clock.Running()
}

// TimeExpired delivers the losing side when a clock budget runs out.
func (s *Session) TimeExpired() <-chan clock.Side {
	return s.clock.Expired()
}

// Close stops the clock and tears the engine down. Safe to call while a
// search is outstanding: terminating the channel unblocks the search's
// pending read, which surfaces the channel-closed error to its caller.
func (s *Session) Close() {
	s.clock.Stop()
	s.driver.Close()
	s.logger.Println("session closed")
}
