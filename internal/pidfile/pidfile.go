// Package pidfile implements the daemonization dance and PID-file
// management described in spec §6's CLI section: the process forks,
// the parent waits for the child's readiness signal, the child writes
// its PID file, closes standard streams, and chdir(/)s. Go programs
// cannot safely fork(2) past single-threaded bootstrap (the runtime's
// other OS threads are not duplicated sanely), so "fork" is
// re-architected as re-exec of /proc/self/exe via os.StartProcess --
// the standard Go idiom for daemonizing without cgo.
package pidfile

import (
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
)

const readyEnv = "NETSENSOR_DAEMON_READY_FD"

// Daemonize re-execs the current binary with a marker environment
// variable set and an inherited pipe write-end, then blocks until the
// child writes one byte to that pipe (signaling successful
// initialization) or exits. It returns (isChild=true) in the
// re-exec'd child process and (isChild=false, exitCode) in the
// original parent process, which should os.Exit(exitCode) immediately.
func Daemonize() (isChild bool, parentExitCode int, err error) {
	if os.Getenv(readyEnv) != "" {
		return true, 0, nil
	}

	r, w, err := os.Pipe()
	if err != nil {
		return false, 1, errors.Wrap(err, "pidfile: pipe")
	}

	exe, err := os.Executable()
	if err != nil {
		return false, 1, errors.Wrap(err, "pidfile: executable")
	}

	proc, err := os.StartProcess(exe, os.Args, &os.ProcAttr{
		Env:   append(os.Environ(), readyEnv+"=1"),
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr, w},
	})
	if err != nil {
		return false, 1, errors.Wrap(err, "pidfile: start process")
	}
	w.Close()

	buf := make([]byte, 1)
	n, _ := r.Read(buf)
	r.Close()

	if n != 1 {
		// child exited without signaling readiness
		state, waitErr := proc.Wait()
		if waitErr == nil && !state.Success() {
			return false, 1, errors.New("pidfile: child failed to initialize")
		}
		return false, 1, errors.New("pidfile: child exited before signaling readiness")
	}

	return false, 0, nil
}

// SignalReady tells the waiting parent (via the inherited fd 3) that
// initialization succeeded, then closes stdio and chdir(/)s, completing
// the daemonization sequence.
func SignalReady() error {
	readyFile := os.NewFile(3, "ready")
	if readyFile != nil {
		readyFile.Write([]byte{1})
		readyFile.Close()
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err == nil {
		syscall.Dup2(int(devNull.Fd()), int(os.Stdin.Fd()))
		syscall.Dup2(int(devNull.Fd()), int(os.Stdout.Fd()))
		syscall.Dup2(int(devNull.Fd()), int(os.Stderr.Fd()))
		devNull.Close()
	}

	return os.Chdir("/")
}

// Write makes path absolute against the current working directory (if
// relative) and writes the current process's PID to it.
func Write(path string) (absPath string, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(err, "pidfile: abs")
	}
	content := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(abs, content, 0644); err != nil {
		return "", errors.Wrap(err, "pidfile: write")
	}
	return abs, nil
}

// Remove unlinks the PID file, called on clean SIGTERM shutdown.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "pidfile: remove")
	}
	return nil
}

// NotifyShutdown registers ch to receive SIGTERM, the signal the
// capture loop observes to begin a clean shutdown (spec §5).
func NotifyShutdown(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGTERM)
}
