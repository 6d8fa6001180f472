package zygiskd

import "testing"

func TestActionValid(t *testing.T) {
	if !ActionSystemServerStarted.Valid() {
		t.Fatal("highest defined action must be valid")
	}
	if Action(99).Valid() {
		t.Fatal("out-of-range action must not be valid")
	}
}

func TestProcessFlagsBitsDoNotOverlap(t *testing.T) {
	all := []ProcessFlags{
		ProcessGrantedRoot, ProcessOnDenylist, ProcessRootIsKPatch,
		ProcessRootIsAPatch, ProcessIsManager, ProcessRootIsKSU,
		ProcessRootIsMagisk, ProcessIsSysUI,
	}
	var seen ProcessFlags
	for _, f := range all {
		if seen&f != 0 {
			t.Fatalf("flag %d overlaps with an earlier flag", f)
		}
		seen |= f
	}
}
