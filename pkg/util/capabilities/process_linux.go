package capabilities

import (
	"fmt"

	"github.com/ccoveille/go-safecast"
	"golang.org/x/sys/unix"
)

func capHeader() unix.CapUserHeader {
	return unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
}

// queryCapabilities reads the calling thread's current capability sets,
// the shared primitive GetProcessEffective/Permitted/Inheritable build on.
func queryCapabilities() ([2]unix.CapUserData, error) {
	var data [2]unix.CapUserData
	header := capHeader()
	if err := unix.Capget(&header, &data[0]); err != nil {
		return data, fmt.Errorf("while getting capability: %s", err)
	}
	return data, nil
}

// GetProcessEffective returns the calling thread's effective capability
// set.
func GetProcessEffective() (uint64, error) {
	data, err := queryCapabilities()
	if err != nil {
		return 0, err
	}
	return uint64(data[0].Effective) | uint64(data[1].Effective)<<32, nil
}

// GetProcessPermitted returns the calling thread's permitted capability set.
func GetProcessPermitted() (uint64, error) {
	data, err := queryCapabilities()
	if err != nil {
		return 0, err
	}
	return uint64(data[0].Permitted) | uint64(data[1].Permitted)<<32, nil
}

// GetProcessInheritable returns the calling thread's inheritable
// capability set.
func GetProcessInheritable() (uint64, error) {
	data, err := queryCapabilities()
	if err != nil {
		return 0, err
	}
	return uint64(data[0].Inheritable) | uint64(data[1].Inheritable)<<32, nil
}

// SetProcessEffective narrows the effective set to caps, refusing any bit
// not already present in the permitted set, and returns the set it
// replaced so a caller can restore it on a later error path.
func SetProcessEffective(caps uint64) (uint64, error) {
	data, err := queryCapabilities()
	if err != nil {
		return 0, err
	}

	oldEffective := uint64(data[0].Effective) | uint64(data[1].Effective)<<32
	permitted := uint64(data[0].Permitted) | uint64(data[1].Permitted)<<32

	data[0].Effective = uint32(caps)       //nolint:gosec
	data[1].Effective = uint32(caps >> 32) //nolint:gosec

	mapLen, err := safecast.ToUint(len(Map))
	if err != nil {
		return 0, err
	}
	for i := uint(0); i <= mapLen; i++ {
		if caps&(1<<i) == 0 || permitted&(1<<i) != 0 {
			continue
		}
		name := "UNKNOWN"
		for _, c := range Map {
			if c.Value == i {
				name = c.Name
				break
			}
		}
		return 0, fmt.Errorf("while setting effective capabilities: %s is not in the permitted capability set", name)
	}

	header := capHeader()
	if err := unix.Capset(&header, &data[0]); err != nil {
		return 0, fmt.Errorf("while setting effective capabilities: %s", err)
	}
	return oldEffective, nil
}
