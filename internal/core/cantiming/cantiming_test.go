package cantiming

import "testing"

// The pclk=100kHz constant this solver inherits from the original firmware
// is documented as informational only (see the package doc and the
// module's Open Question on this point): it does not correspond to any
// real CAN transceiver's peripheral clock, so real bus bitrates like
// 1Mbit/s or 500kbit/s do not actually solve against it. These tests
// exercise the solver exactly as ported, not as a real bit-timing tool.

func TestSolveFindsValidQuadrupleForReachableRate(t *testing.T) {
	timings, ok := Solve(10000)
	if !ok {
		t.Fatal("10kbit/s must solve against the inherited 100kHz scaling")
	}
	if timings.Prescaler != 0 {
		t.Errorf("Prescaler = %d, want 0 (register encoding of prescaler=1)", timings.Prescaler)
	}
	if timings.BS1 != 7 {
		t.Errorf("BS1 = %d, want 7 (register encoding of bs1=8)", timings.BS1)
	}
	if timings.BS2 != 0 {
		t.Errorf("BS2 = %d, want 0 (register encoding of bs2=1)", timings.BS2)
	}
}

func TestSolveRejectsZeroBitrate(t *testing.T) {
	if _, ok := Solve(0); ok {
		t.Fatal("a zero target bitrate must never solve")
	}
}

func TestSolveCannotReachRealCANBitrates(t *testing.T) {
	for _, rate := range []uint32{1000000, 500000, 250000} {
		if _, ok := Solve(rate); ok {
			t.Errorf("Solve(%d) = ok, want failure given the inherited pclk constant", rate)
		}
	}
}

func TestSolveIsDeterministic(t *testing.T) {
	a, okA := Solve(20000)
	b, okB := Solve(20000)
	if okA != okB || a != b {
		t.Fatal("Solve must be a pure function of its input")
	}
}
