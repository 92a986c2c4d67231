package models

import "testing"

func TestMachineState(t *testing.T) {
	var m *MachineRecord
	if got := m.State(); got != StateUnregistered {
		t.Fatalf("nil State() = %s", got)
	}
	m = &MachineRecord{ID: "m1"}
	if got := m.State(); got != StateInactive {
		t.Fatalf("State() = %s, want inactive", got)
	}
	m.IsActive = true
	if got := m.State(); got != StateActive {
		t.Fatalf("State() = %s, want active", got)
	}
}

func TestClonesAreIndependent(t *testing.T) {
	reg := &Registry{Machines: map[string]string{"a": "1"}}
	rc := reg.Clone()
	rc.Machines["b"] = "2"
	rc.MachineCount = 9
	if len(reg.Machines) != 1 || reg.MachineCount != 0 {
		t.Fatalf("registry clone leaked writes: %+v", reg)
	}

	url := "http://img"
	r := &ReadingRecord{ID: "r1", ImageURL: &url}
	c := r.Clone()
	*c.ImageURL = "other"
	if *r.ImageURL != "http://img" {
		t.Fatalf("reading clone shares image url")
	}

	if _, ok := (*Registry)(nil).Lookup("a"); ok {
		t.Fatal("nil registry lookup succeeded")
	}
}
