package rlimit

import (
	"os"
	"testing"
)

func TestGetSet(t *testing.T) {
	fileCur, fileMax, err := Get("RLIMIT_NOFILE")
	if err != nil {
		t.Fatal(err)
	}

	if err := Set("RLIMIT_NOFILE", fileCur, fileMax); err != nil {
		t.Error(err)
	}

	if os.Getuid() != 0 {
		raised := fileMax + 1
		if err := Set("RLIMIT_NOFILE", fileCur, raised); err == nil {
			t.Errorf("unprivileged process raised RLIMIT_NOFILE max without error")
		}
	}

	if _, _, err := Get("RLIMIT_FAKE"); err == nil {
		t.Errorf("resource limit RLIMIT_FAKE doesn't exist")
	}

	if err := Set("RLIMIT_FAKE", fileCur, fileMax); err == nil {
		t.Errorf("resource limit RLIMIT_FAKE doesn't exist")
	}
}
