package mount

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ceigel/northstar/internal/pkg/util/bin"
)

// Cleanup scans run_dir and /dev/mapper for dm-verity devices and empty
// mount point directories left behind by a crashed previous run, and
// releases them (spec.md §4.C "Startup cleanup"). Loop devices are not
// scanned or released here.
//
// A device is considered stale if its name decodes as "<name>-<version>"
// (container.FileStem's shape) but run_dir has no matching
// "<name>:<version>/root" mount point directory still present, or the
// directory exists but nothing is mounted there.
func Cleanup(runDir string) error {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading run dir %s: %w", runDir, err)
	}

	live := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		root := filepath.Join(runDir, e.Name(), "root")
		if mounted, err := isMountPoint(root); err == nil && !mounted {
			continue
		}
		live[dirStem(e.Name())] = struct{}{}
	}

	devices, err := staleMapperDevices(live)
	if err != nil {
		return err
	}
	for _, name := range devices {
		if err := removeMapperDevice(name); err != nil {
			return fmt.Errorf("releasing stale dm-verity device %s: %w", name, err)
		}
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		root := filepath.Join(runDir, e.Name(), "root")
		if mounted, err := isMountPoint(root); err == nil && !mounted {
			os.Remove(root)
			os.Remove(filepath.Join(runDir, e.Name()))
		}
	}

	return nil
}

// dirStem maps run_dir's "<name>:<version>" directory naming to the
// "<name>-<version>" dm device naming container.FileStem produces.
func dirStem(dirName string) string {
	return strings.Replace(dirName, ":", "-", 1)
}

func staleMapperDevices(live map[string]struct{}) ([]string, error) {
	mapperEntries, err := os.ReadDir("/dev/mapper")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading /dev/mapper: %w", err)
	}

	var stale []string
	for _, e := range mapperEntries {
		name := e.Name()
		if name == "control" {
			continue
		}
		if !strings.Contains(name, "-") {
			continue
		}
		if _, ok := live[name]; !ok {
			stale = append(stale, name)
		}
	}
	return stale, nil
}

func removeMapperDevice(name string) error {
	dmsetup, err := bin.FindBin("dmsetup")
	if err != nil {
		return fmt.Errorf("locating dmsetup: %w", err)
	}
	cmd := exec.Command(dmsetup, "remove", name)
	if out, err := cmd.CombinedOutput(); err != nil {
		if _, statErr := os.Stat("/dev/mapper/" + name); os.IsNotExist(statErr) {
			return nil
		}
		return fmt.Errorf("dmsetup remove %s: %w: %s", name, err, out)
	}
	return nil
}

// isMountPoint reports whether path appears as a mount point in
// /proc/self/mountinfo.
func isMountPoint(path string) (bool, error) {
	data, err := os.ReadFile("/proc/self/mountinfo")
	if err != nil {
		return false, fmt.Errorf("reading /proc/self/mountinfo: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		if fields[4] == path {
			return true, nil
		}
	}
	return false, nil
}
