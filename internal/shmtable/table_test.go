package shmtable

import (
	"path/filepath"
	"testing"
)

func TestCreateRejectsOutOfRangeNProcs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table")

	if _, err := Create(path, 0); err == nil {
		t.Error("Create with nProcs=0 should fail")
	}
	if _, err := Create(path, MaxProcs+1); err == nil {
		t.Error("Create with nProcs>MaxProcs should fail")
	}
}

func TestCreateAttachRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table")

	owner, err := Create(path, 4)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer owner.Destroy()

	if n := owner.NProcs(); n != 4 {
		t.Errorf("NProcs() = %d, want 4", n)
	}

	attached, err := Attach(path)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer attached.Close()

	if n := attached.NProcs(); n != 4 {
		t.Errorf("attached NProcs() = %d, want 4", n)
	}

	owner.SetWorkerPID(1, 4242)
	if got := attached.WorkerPID(1); got != 4242 {
		t.Errorf("attached sees WorkerPID(1) = %d, want 4242 (MAP_SHARED mapping should be visible across handles)", got)
	}
}

func TestPCRoundTrip(t *testing.T) {
	table := newTestTable(t, 3)
	if got := table.PC(0); got != 0 {
		t.Errorf("initial PC(0) = %d, want 0", got)
	}
	table.SetPC(0, 7)
	if got := table.PC(0); got != 7 {
		t.Errorf("PC(0) = %d, want 7", got)
	}
}

func TestRaiseAndClearWantIO(t *testing.T) {
	table := newTestTable(t, 3)
	if table.WantIO(2) {
		t.Error("WantIO(2) should start false")
	}
	table.RaiseIO(2, WriteIO)
	if !table.WantIO(2) {
		t.Error("WantIO(2) should be true after RaiseIO")
	}
	if got := table.IOType(2); got != WriteIO {
		t.Errorf("IOType(2) = %v, want WriteIO", got)
	}
	table.ClearWantIO(2)
	if table.WantIO(2) {
		t.Error("WantIO(2) should be false after ClearWantIO")
	}
}

func TestDeviceBusyAndInflight(t *testing.T) {
	table := newTestTable(t, 3)
	if table.DeviceBusy() {
		t.Error("DeviceBusy should start false")
	}
	table.SetDeviceBusy(true)
	table.SetIOInflightPID(99)
	if !table.DeviceBusy() {
		t.Error("DeviceBusy should be true")
	}
	if got := table.IOInflightPID(); got != 99 {
		t.Errorf("IOInflightPID() = %d, want 99", got)
	}
	table.SetDeviceBusy(false)
	if table.DeviceBusy() {
		t.Error("DeviceBusy should be false after clearing")
	}
}

func TestIODoneSetAndClear(t *testing.T) {
	table := newTestTable(t, 3)
	table.SetIODone(55, ReadIO)
	if got := table.IODonePID(); got != 55 {
		t.Errorf("IODonePID() = %d, want 55", got)
	}
	if got := table.IODoneType(); got != ReadIO {
		t.Errorf("IODoneType() = %v, want ReadIO", got)
	}
	table.ClearIODone()
	if got := table.IODonePID(); got != 0 {
		t.Errorf("IODonePID() after clear = %d, want 0", got)
	}
}

func TestDoneFlag(t *testing.T) {
	table := newTestTable(t, 3)
	if table.Done() {
		t.Error("Done should start false")
	}
	table.SetDone()
	if !table.Done() {
		t.Error("Done should be true after SetDone")
	}
}

func TestIOTypeString(t *testing.T) {
	if got := ReadIO.String(); got != "READ" {
		t.Errorf("ReadIO.String() = %q, want READ", got)
	}
	if got := WriteIO.String(); got != "WRITE" {
		t.Errorf("WriteIO.String() = %q, want WRITE", got)
	}
}

func TestDestroyRemovesBackingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table")

	table, err := Create(path, 3)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := table.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := Attach(path); err == nil {
		t.Error("Attach should fail once the backing file has been destroyed")
	}
}

func newTestTable(t *testing.T, nProcs int) *Table {
	t.Helper()
	dir := t.TempDir()
	table, err := Create(filepath.Join(dir, "table"), nProcs)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { table.Destroy() })
	return table
}
