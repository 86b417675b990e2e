package session

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonasDure/Allied-Mastercomputer/internal/clock"
	. "github.com/JonasDure/Allied-Mastercomputer/internal/helpers"
	"github.com/JonasDure/Allied-Mastercomputer/internal/uci"

	"github.com/stretchr/testify/assert"
)

var errFakeClosed = errors.New("fake channel closed")

// fakeChannel scripts handshake and position traffic, and can hold a search
// open: when the queue is empty, reads block until a line arrives on
// release or the channel is terminated.
type fakeChannel struct {
	lock    sync.Mutex
	writes  []string
	queue   []string
	started chan bool

	release chan string
	closed  chan bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		started: make(chan bool, 8),
		release: make(chan string, 8),
		closed:  make(chan bool),
	}
}

func (f *fakeChannel) WriteLine(input string) Error {
	f.lock.Lock()
	defer f.lock.Unlock()

	select {
	case <-f.closed:
		return Errorf("%w: terminated", errFakeClosed)
	default:
	}

	f.writes = append(f.writes, input)

	switch {
	case input == "uci":
		f.queue = append(f.queue, "uciok")
	case input == "isready":
		f.queue = append(f.queue, "readyok")
	case strings.HasPrefix(input, "go"):
		f.started <- true
	}
	return NilError
}

func (f *fakeChannel) ReadLine(timeout Optional[time.Duration]) (Optional[string], Error) {
	f.lock.Lock()
	if len(f.queue) > 0 {
		line := f.queue[0]
		f.queue = f.queue[1:]
		f.lock.Unlock()
		return Some(line), NilError
	}
	f.lock.Unlock()

	select {
	case line := <-f.release:
		return Some(line), NilError
	case <-f.closed:
		return Empty[string](), Errorf("%w: terminated", errFakeClosed)
	}
}

func (f *fakeChannel) Terminate() {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
}

func (f *fakeChannel) lastWrite() string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return Last(f.writes)
}

var _ uci.Channel = (*fakeChannel)(nil)

func fakeSession(t *testing.T) (*Session, *fakeChannel) {
	t.Helper()

	f := newFakeChannel()
	driver := uci.NewDriver(f, uci.WithLogger(&SilentLogger))
	err := driver.Initialize()
	assert.True(t, err.IsNil(), err)

	return newSession(driver, clock.NewClock(clock.WithLogger(&SilentLogger)), &SilentLogger), f
}

func TestSetPositionRoundTrip(t *testing.T) {
	s, f := fakeSession(t)

	err := s.SetPosition([]string{"e2e4", "e7e5"}, Empty[string]())
	assert.True(t, err.IsNil(), err)

	assert.Equal(t, "position startpos moves e2e4 e7e5", s.LastPosition())
	assert.Equal(t, "position startpos moves e2e4 e7e5", f.lastWrite())

	fen := "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	err = s.SetPosition(nil, Some(fen))
	assert.True(t, err.IsNil(), err)
	assert.Equal(t, "position fen "+fen, s.LastPosition())
}

func TestBestMove(t *testing.T) {
	s, f := fakeSession(t)

	go func() {
		<-f.started
		f.release <- "info depth 1 score cp 20 pv e2e4"
		f.release <- "bestmove e2e4 ponder e7e5"
	}()

	result, err := s.BestMove(uci.SearchParams{Depth: Some(1)})
	assert.True(t, err.IsNil(), err)
	assert.Equal(t, "e2e4", result.BestMove.Value())
	assert.Len(t, result.Infos, 1)
}

func TestBestMoveBusy(t *testing.T) {
	s, f := fakeSession(t)

	type outcome struct {
		result uci.SearchResult
		err    Error
	}
	first := make(chan outcome, 1)

	go func() {
		result, err := s.BestMove(uci.SearchParams{Depth: Some(20)})
		first <- outcome{result, err}
	}()

	// Wait for the first search to be holding the wire.
	<-f.started

	// The second call fails fast; it must not queue behind the first.
	before := time.Now()
	_, err := s.BestMove(uci.SearchParams{Depth: Some(1)})
	assert.True(t, ErrorIs(err, ErrSessionBusy))
	assert.Less(t, time.Since(before), 500*time.Millisecond)

	f.release <- "bestmove g1f3"
	o := <-first
	assert.True(t, o.err.IsNil(), o.err)
	assert.Equal(t, "g1f3", o.result.BestMove.Value())

	// Once the first search is done, searches work again.
	go func() {
		<-f.started
		f.release <- "bestmove e2e4"
	}()
	result, err := s.BestMove(uci.SearchParams{Depth: Some(1)})
	assert.True(t, err.IsNil(), err)
	assert.Equal(t, "e2e4", result.BestMove.Value())
}

func TestCloseDuringSearch(t *testing.T) {
	s, f := fakeSession(t)

	pending := make(chan Error, 1)
	go func() {
		_, err := s.BestMove(uci.SearchParams{Depth: Some(20)})
		pending <- err
	}()

	<-f.started
	s.Close()

	select {
	case err := <-pending:
		assert.True(t, ErrorIs(err, errFakeClosed))
	case <-time.After(5 * time.Second):
		t.Fatal("search never unblocked after Close")
	}
}

func TestClockRunsDuringSearch(t *testing.T) {
	s, f := fakeSession(t)

	s.ConfigureClock(5, 0)
	s.StartClock()

	go func() {
		<-f.started
		time.Sleep(400 * time.Millisecond)
		f.release <- "bestmove e2e4"
	}()

	_, err := s.BestMove(uci.SearchParams{Depth: Some(20)})
	assert.True(t, err.IsNil(), err)

	s.StopClock()

	white, black := s.Times()
	assert.Less(t, white, 300*time.Second)
	assert.Equal(t, 300*time.Second, black)
}

func TestClockScenarioFiveTwo(t *testing.T) {
	s, _ := fakeSession(t)

	s.ConfigureClock(5, 2)
	white, black := s.Times()
	assert.Equal(t, 300*time.Second, white)
	assert.Equal(t, 300*time.Second, black)

	s.StartClock()
	time.Sleep(1200 * time.Millisecond)
	active := s.SwitchSide()
	s.StopClock()

	// The increment goes to the side that just moved.
	assert.Equal(t, clock.Black, active)
	white, black = s.Times()

	expected := 300*time.Second - 1200*time.Millisecond + 2*time.Second
	diff := expected - white
	if diff < 0 {
		diff = -diff
	}
	assert.LessOrEqual(t, diff, 200*time.Millisecond)

	diff = 300*time.Second - black
	if diff < 0 {
		diff = -diff
	}
	assert.LessOrEqual(t, diff, 200*time.Millisecond)
}

func TestNewSessionSpawnFailure(t *testing.T) {
	_, err := NewSession("/nonexistent/engine-binary", WithLogger(&SilentLogger))
	assert.True(t, err.HasError())
}
