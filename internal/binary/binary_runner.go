package binary

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	. "github.com/JonasDure/Allied-Mastercomputer/internal/helpers"
)

var (
	// ErrProcessSpawn means the engine executable could not be launched.
	ErrProcessSpawn = errors.New("process spawn failed")
	// ErrChannelClosed means the engine process exited or its pipes broke.
	ErrChannelClosed = errors.New("channel closed")
)

// BinaryRunner owns a child process and its line-oriented stdin/stdout.
// WriteLine and ReadLine are the request/response primitives; the protocol
// layer on top is responsible for strict turn-taking.
type BinaryRunner struct {
	cmdPath string
	cmdName string

	lock sync.Mutex
	cmd  *exec.Cmd

	stdin io.Writer

	stdoutChan chan string

	record     []string
	recordLock sync.Mutex

	Logger Logger
}

type BinaryRunnerOption func(*BinaryRunner)

func WithLogger(logger Logger) BinaryRunnerOption {
	return func(u *BinaryRunner) {
		u.Logger = logger
	}
}

func (u *BinaryRunner) CmdPath() string {
	return u.cmdPath
}

func (u *BinaryRunner) CmdName() string {
	return u.cmdName
}

func (u *BinaryRunner) appendRecord(line string) {
	u.recordLock.Lock()
	defer u.recordLock.Unlock()
	u.record = append(u.record, line)
}

func (u *BinaryRunner) flush(indent string) string {
	u.recordLock.Lock()
	defer u.recordLock.Unlock()
	return Indent(strings.Join(u.record, "\n"), indent)
}

// Flush returns the transcript of everything written to and read from the
// child so far, for logging.
func (u *BinaryRunner) Flush() string {
	return "> " + u.flush("> ")
}

func wrapError(u *BinaryRunner, err error) Error {
	if !IsNil(err) {
		return Wrap(fmt.Errorf("%w\n.  %v\n", err, u.flush(".  ")))
	}
	return NilError
}

func SetupBinaryRunner(cmdPath string, cmdName string, args []string, options ...BinaryRunnerOption) (*BinaryRunner, Error) {
	u := &BinaryRunner{
		cmdPath: cmdPath,
		cmdName: cmdName,
	}

	for _, option := range options {
		option(u)
	}

	if u.Logger == nil {
		u.Logger = &DefaultLogger
	}

	u.Logger.Println(cmdPath, args)
	u.cmd = exec.Command(cmdPath, args...)

	var err error
	u.stdin, err = u.cmd.StdinPipe()
	if !IsNil(err) {
		return u, wrapError(u, fmt.Errorf("%w: %v: %v", ErrProcessSpawn, cmdPath, err))
	}

	var stdout io.Reader
	var stderr io.Reader
	stdout, err = u.cmd.StdoutPipe()
	if !IsNil(err) {
		return u, wrapError(u, fmt.Errorf("%w: %v: %v", ErrProcessSpawn, cmdPath, err))
	}
	stderr, err = u.cmd.StderrPipe()
	if !IsNil(err) {
		return u, wrapError(u, fmt.Errorf("%w: %v: %v", ErrProcessSpawn, cmdPath, err))
	}

	u.stdoutChan = make(chan string)

	avoidSpam := func(line string) bool {
		if strings.Contains(line, "multipv") && !strings.Contains(line, "multipv 1 ") {
			return true
		}
		return strings.Contains(line, "currmove")
	}

	go func() {
		stdoutScanner := bufio.NewScanner(bufio.NewReader(stdout))
		for stdoutScanner.Scan() {
			line := stdoutScanner.Text()
			if !avoidSpam(line) {
				u.Logger.Println("stdout: ", line)
			}
			u.appendRecord("out: " + line)
			u.stdoutChan <- line
		}
		close(u.stdoutChan)
	}()

	go func() {
		stderrScanner := bufio.NewScanner(bufio.NewReader(stderr))
		for stderrScanner.Scan() {
			line := stderrScanner.Text()
			u.Logger.Println("stderr: ", line)
			u.appendRecord("err: " + line)
		}
	}()

	err = u.cmd.Start()
	if !IsNil(err) {
		return u, wrapError(u, fmt.Errorf("%w: %v: %v", ErrProcessSpawn, cmdPath, err))
	}

	return u, NilError
}

// WriteLine appends a newline and writes atomically. Pipe writes aren't
// buffered so there is nothing further to flush.
func (u *BinaryRunner) WriteLine(input string) Error {
	u.lock.Lock()
	defer u.lock.Unlock()

	if u.cmd == nil {
		return wrapError(u, fmt.Errorf("%w: %v", ErrChannelClosed, u.cmdPath))
	}

	if u.cmd.ProcessState != nil && u.cmd.ProcessState.Exited() {
		return wrapError(u, fmt.Errorf("%w: cmd exited: %v", ErrChannelClosed, u.cmdPath))
	}

	u.Logger.Println("stdin: ", input)
	u.appendRecord("in:  " + input)

	_, err := u.stdin.Write([]byte(input + "\n"))
	if !IsNil(err) {
		return wrapError(u, fmt.Errorf("%w: %v: %v", ErrChannelClosed, u.cmdPath, err))
	}

	return NilError
}

// ReadLine blocks until the child emits a full line. A pure timeout returns
// an empty Optional and no error; a closed stream returns ErrChannelClosed.
func (u *BinaryRunner) ReadLine(timeout Optional[time.Duration]) (Optional[string], Error) {
	if timeout.HasValue() {
		select {
		case line, ok := <-u.stdoutChan:
			if !ok {
				return Empty[string](), wrapError(u, fmt.Errorf("%w: %v", ErrChannelClosed, u.cmdPath))
			}
			return Some(line), NilError
		case <-time.After(timeout.Value()):
			return Empty[string](), NilError
		}
	}

	line, ok := <-u.stdoutChan
	if !ok {
		return Empty[string](), wrapError(u, fmt.Errorf("%w: %v", ErrChannelClosed, u.cmdPath))
	}
	return Some(line), NilError
}

// Terminate asks the child to exit and kills it if it doesn't do so
// promptly. Any pending ReadLine unblocks with ErrChannelClosed once the
// child's stdout drains. Idempotent.
func (u *BinaryRunner) Terminate() {
	u.lock.Lock()
	defer u.lock.Unlock()

	if u.cmd == nil {
		return
	}

	_ = u.cmd.Process.Signal(syscall.SIGTERM)

	waited := make(chan error, 1)
	go func(cmd *exec.Cmd) {
		waited <- cmd.Wait()
	}(u.cmd)

	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		_ = u.cmd.Process.Kill()
		<-waited
	}

	u.cmd = nil
}
