package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ceigel/northstar/internal/pkg/config"
	"github.com/ceigel/northstar/internal/pkg/util/bin"
)

// DebugHandle is a running external collaborator attached to a container's
// init process (spec.md §4.D.2). Whoever attached it joins it with Wait or
// Stop; the supervisor does not track these handles.
type DebugHandle struct {
	cmd *exec.Cmd
}

// Wait blocks until the attached tool exits.
func (h *DebugHandle) Wait() error {
	return h.cmd.Wait()
}

// Stop asks the attached tool to exit and waits for it.
func (h *DebugHandle) Stop() error {
	_ = h.cmd.Process.Kill()
	return h.cmd.Wait()
}

// AttachStrace spawns "strace -p <pid>" per the [debug.strace] config
// table. With output "file" its output goes to cfg.Path; otherwise it goes
// to a uniquely named file under logDir. Nothing is written to the runtime
// log. It is a standalone helper, not part of any Launch call
// (spec.md §4.D.2).
func AttachStrace(pid int, cfg *config.Strace, logDir string) (*DebugHandle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("strace attach requested with no [debug.strace] config")
	}
	straceBin, err := bin.FindBin("strace")
	if err != nil {
		return nil, fmt.Errorf("locating strace: %w", err)
	}

	args := []string{"-p", strconv.Itoa(pid)}
	if cfg.Flags != "" {
		args = append(args, strings.Fields(cfg.Flags)...)
	}

	out, err := debugOutput(cfg.Output == config.StraceOutputFile, cfg.Path, logDir, pid, "strace")
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(straceBin, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting strace: %w", err)
	}
	return &DebugHandle{cmd: cmd}, nil
}

// AttachPerf spawns "perf record -p <pid>" per the [debug.perf] config
// table, the perf counterpart to AttachStrace.
func AttachPerf(pid int, cfg *config.Perf, logDir string) (*DebugHandle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("perf attach requested with no [debug.perf] config")
	}
	perfBin, err := bin.FindBin("perf")
	if err != nil {
		return nil, fmt.Errorf("locating perf: %w", err)
	}

	args := []string{"record", "-p", strconv.Itoa(pid)}
	if cfg.Flags != "" {
		args = append(args, strings.Fields(cfg.Flags)...)
	}

	out, err := debugOutput(cfg.Path != "", cfg.Path, logDir, pid, "perf")
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(perfBin, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting perf: %w", err)
	}
	return &DebugHandle{cmd: cmd}, nil
}

func debugOutput(toFile bool, path, logDir string, pid int, tool string) (*os.File, error) {
	if !toFile {
		name := filepath.Join(logDir, fmt.Sprintf("%s-%d-%d.log", tool, pid, time.Now().UnixNano()))
		return os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}
	if path == "" {
		return nil, fmt.Errorf("%s output set to file but no path configured", tool)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
