package launcher

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ceigel/northstar/internal/pkg/npk"
)

// wireStdio dup2's the pipe fds buildInitConfig allocated onto fd 1/2 for
// IOPipe routing (spec.md §4.D.5.i). IONull redirects to /dev/null.
// IOInherit, and the empty zero value of npk.IO.Stdout/Stderr which is
// treated the same way, is already correct: Launch set cmd.Stdout/Stderr to the daemon's own, so
// the re-exec'd process inherited them on fd 1/2 without this function
// doing anything.
func wireStdio(cfg *initConfig) error {
	if cfg.IO == nil {
		return nil
	}
	if err := wireStream(cfg.IO.Stdout, cfg.StdoutFD, unix.Stdout); err != nil {
		return fmt.Errorf("stdout: %w", err)
	}
	if err := wireStream(cfg.IO.Stderr, cfg.StderrFD, unix.Stderr); err != nil {
		return fmt.Errorf("stderr: %w", err)
	}
	return nil
}

func wireStream(routing npk.IORouting, pipeFD, targetFD int) error {
	switch routing {
	case npk.IOPipe:
		if pipeFD < 0 {
			return fmt.Errorf("pipe routing requested but no fd was allocated")
		}
		if err := unix.Dup2(pipeFD, targetFD); err != nil {
			return fmt.Errorf("dup2: %w", err)
		}
		return unix.Close(pipeFD)
	case npk.IONull:
		null, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return fmt.Errorf("opening %s: %w", os.DevNull, err)
		}
		defer null.Close()
		return unix.Dup2(int(null.Fd()), targetFD)
	case npk.IOInherit, "":
		return nil
	default:
		return fmt.Errorf("unknown io routing %q", routing)
	}
}
