package app

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestTouchNotifySignal_EmptyPath(t *testing.T) {
	err := TouchNotifySignal("")
	if err != nil {
		t.Errorf("TouchNotifySignal(\"\") should not error, got %v", err)
	}
}

func TestTouchNotifySignal_CreatesFileAndDir(t *testing.T) {
	dir := t.TempDir()
	signalPath := filepath.Join(dir, "subdir", ".attendsync-notify")
	err := TouchNotifySignal(signalPath)
	if err != nil {
		t.Fatalf("TouchNotifySignal: %v", err)
	}
	data, err := os.ReadFile(signalPath)
	if err != nil {
		t.Fatalf("signal file not created: %v", err)
	}
	if !IsOwnSignal(string(data)) {
		t.Errorf("signal %q should carry this process's pid", data)
	}
}

func TestTouchNotifySignal_OverwritesWithNewRevision(t *testing.T) {
	dir := t.TempDir()
	signalPath := filepath.Join(dir, ".notify")
	if err := TouchNotifySignal(signalPath); err != nil {
		t.Fatal(err)
	}
	data1, _ := os.ReadFile(signalPath)
	if err := TouchNotifySignal(signalPath); err != nil {
		t.Fatal(err)
	}
	data2, _ := os.ReadFile(signalPath)
	if string(data1) == string(data2) {
		t.Error("second touch should write new revision (timestamp)")
	}
}

func TestSignalOwner(t *testing.T) {
	cases := []struct {
		rev  string
		pid  int
		want bool
	}{
		{"123:456", 123, true},
		{" 7:1\n", 7, true},
		{"1700000000", 0, false},
		{"abc:1", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		pid, ok := SignalOwner(tc.rev)
		if ok != tc.want || pid != tc.pid {
			t.Errorf("SignalOwner(%q) = %d, %v; want %d, %v", tc.rev, pid, ok, tc.pid, tc.want)
		}
	}
	if IsOwnSignal(fmt.Sprintf("%d:1", os.Getpid()+1)) {
		t.Error("IsOwnSignal should reject another pid")
	}
}
