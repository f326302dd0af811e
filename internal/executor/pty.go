package executor

import (
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// defaultWindowSize is the PTY window attached to every spawned task
// (spec.md §4.6): 24 rows by 80 columns.
var defaultWindowSize = &pty.Winsize{Rows: 24, Cols: 80}

// ptyChild forks a pseudo-terminal pair and execs the wrapped command with
// the slave attached as its controlling terminal (via creack/pty, which
// implements that attach-before-exec sequence). The parent's master fd is
// put in non-blocking mode; reads use select-based readiness polling rather
// than relying on Go's runtime poller, per spec.md §4.6 / §9.
type ptyChild struct {
	cmd      *exec.Cmd
	master   *os.File
	fd       int
	done     chan struct{}
	exitCode int
}

func newPTYChild(wrapped string) (*ptyChild, error) {
	cmd := exec.Command("/bin/zsh", "-c", wrapped)
	master, err := pty.StartWithSize(cmd, defaultWindowSize)
	if err != nil {
		return nil, err
	}

	fd := int(master.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		master.Close()
		cmd.Process.Kill()
		return nil, err
	}

	pc := &ptyChild{cmd: cmd, master: master, fd: fd, done: make(chan struct{})}
	go pc.reap()
	return pc, nil
}

func (c *ptyChild) reap() {
	err := c.cmd.Wait()
	c.exitCode = exitCodeFromWaitError(err)
	close(c.done)
}

// Read polls the master fd with unix.Select for up to timeout (the collector
// loop passes 100ms, spec.md §4.6's poll interval) and reads with
// the raw unix.Read once the fd is ready, rather than through os.File (whose
// buffering assumes a runtime-integrated poller we bypassed by setting
// O_NONBLOCK directly on the fd).
func (c *ptyChild) Read(timeout time.Duration) ([]byte, error) {
	var rfds unix.FdSet
	fdSet(&rfds, c.fd)
	tv := unix.NsecToTimeval(timeout.Nanoseconds())

	n, err := unix.Select(c.fd+1, &rfds, nil, nil, &tv)
	if err != nil {
		if err == unix.EINTR {
			return nil, ErrReadTimeout
		}
		return nil, err
	}
	if n == 0 {
		return nil, ErrReadTimeout
	}

	buf := make([]byte, 4096)
	nRead, err := unix.Read(c.fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return nil, ErrReadTimeout
		}
		if err == unix.EIO {
			// EIO on the master fd signals the slave side closed (child exited).
			return nil, io.EOF
		}
		return nil, err
	}
	if nRead == 0 {
		return nil, io.EOF
	}
	return buf[:nRead], nil
}

func (c *ptyChild) Write(data []byte) error {
	for len(data) > 0 {
		n, err := unix.Write(c.fd, data)
		if err != nil {
			if err == unix.EAGAIN {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}
		data = data[n:]
	}
	return nil
}

func (c *ptyChild) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Process.Kill()
}

func (c *ptyChild) Exited() <-chan struct{} { return c.done }
func (c *ptyChild) ExitCode() int           { return c.exitCode }

func (c *ptyChild) Close() error {
	return c.master.Close()
}

// fdSet sets bit fd in a select(2) fd_set. golang.org/x/sys/unix's FdSet is
// a fixed array of machine words; this assumes 64-bit words, which holds for
// linux/amd64 and linux/arm64 but not for darwin, whose FdSet uses 32-bit words.
func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}
