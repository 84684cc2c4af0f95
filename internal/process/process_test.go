//go:build unix

package process_test

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"tether/internal/process"
)

func TestOpenReportsExitOfChild(t *testing.T) {
	cmd := exec.Command("sleep", "0.2")
	if err := cmd.Start(); err != nil {
		t.Skipf("sleep unavailable: %v", err)
	}
	handle, err := process.Open(cmd.Process.Pid)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer handle.Close()

	if handle.Exited() {
		t.Fatal("expected child to be running")
	}
	_ = cmd.Wait()

	select {
	case <-handle.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("exit not observed")
	}
	if !handle.Exited() {
		t.Fatal("expected Exited after Done")
	}
}

func TestOpenSelfStaysRunningUntilClose(t *testing.T) {
	handle, err := process.Open(os.Getpid())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if handle.PID() != os.Getpid() {
		t.Fatalf("unexpected pid %d", handle.PID())
	}
	time.Sleep(300 * time.Millisecond)
	if handle.Exited() {
		t.Fatal("own process reported as exited")
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestOpenRejectsInvalidPID(t *testing.T) {
	if _, err := process.Open(0); err == nil {
		t.Fatal("expected error for pid 0")
	}
}

func TestFakeCountsCloses(t *testing.T) {
	fake := process.NewFake(100)
	fake.Exit()
	fake.Exit()
	<-fake.Done()
	_ = fake.Close()
	_ = fake.Close()
	if fake.Closes() != 2 {
		t.Fatalf("expected 2 closes recorded, got %d", fake.Closes())
	}
}
