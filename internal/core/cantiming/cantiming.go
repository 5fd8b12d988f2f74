// Package cantiming ports CANDriver::computeTimings from the original
// firmware: given a target bitrate, it solves for a prescaler/BS1/BS2/SJW
// bit-timing quadruple that a CAN controller would be configured with.
//
// This is informational only — nothing in this module drives a real CAN
// transceiver's bit-timing registers, since that lives below the
// go-socketcan-style Bus abstraction used by internal/adapters/can. The
// pclk constant below (100kHz) is the value the original firmware used
// for its host-side sanity check, not a real peripheral clock; it is
// carried over unchanged so Solve's results match the firmware's for the
// same inputs, per the module's documented Open Question on this point.
//
// Restructured from the teacher's coordinator package (a pure,
// configuration-free conversion utility with the same "solve, validate,
// return ok" shape).
package cantiming

// Timings is a CAN bit-timing quadruple as a controller would be
// programmed with it: all fields are the "minus one" register encoding
// used by bxCAN-style peripherals.
type Timings struct {
	Prescaler uint16
	SJW       uint8
	BS1       uint8
	BS2       uint8
}

const (
	pclk                  = 100000
	maxBS1                = 16
	maxBS2                = 8
	maxSamplePointPermill = 900
)

// Solve computes bit timings for targetBitrate (bits/sec). It reports
// false if no valid quadruple exists for the requested rate.
func Solve(targetBitrate uint32) (Timings, bool) {
	if targetBitrate == 0 {
		return Timings{}, false
	}

	maxQuantaPerBit := 17
	if targetBitrate >= 1000000 {
		maxQuantaPerBit = 10
	}

	prescalerBS := uint32(pclk) / targetBitrate
	if prescalerBS == 0 {
		return Timings{}, false
	}

	bs1Bs2Sum := uint32(maxQuantaPerBit - 1)
	for prescalerBS%(1+bs1Bs2Sum) != 0 {
		if bs1Bs2Sum <= 2 {
			return Timings{}, false
		}
		bs1Bs2Sum--
	}

	prescaler := prescalerBS / (1 + bs1Bs2Sum)
	if prescaler < 1 || prescaler > 1024 {
		return Timings{}, false
	}

	bs1, bs2, ok := solveBsPair(bs1Bs2Sum)
	if !ok {
		return Timings{}, false
	}

	if targetBitrate != uint32(pclk)/(prescaler*(1+bs1+bs2)) {
		return Timings{}, false
	}

	return Timings{
		Prescaler: uint16(prescaler - 1),
		SJW:       0,
		BS1:       uint8(bs1 - 1),
		BS2:       uint8(bs2 - 1),
	}, true
}

// solveBsPair splits bs1Bs2Sum into BS1/BS2 aiming for an ~87.5% sample
// point, falling back to a round-toward-zero split if the first attempt
// overshoots maxSamplePointPermill. Mirrors the original's BsPair logic.
func solveBsPair(sum uint32) (bs1, bs2 uint32, ok bool) {
	bs1 = ((7*sum - 1) + 4) / 8 // round to nearest
	bs2 = sum - bs1
	if samplePointPermill(bs1, sum) > maxSamplePointPermill {
		bs1 = (7*sum - 1) / 8 // round toward zero
		bs2 = sum - bs1
	}
	if bs1 < 1 || bs1 > maxBS1 || bs2 < 1 || bs2 > maxBS2 {
		return 0, 0, false
	}
	return bs1, bs2, true
}

func samplePointPermill(bs1, sum uint32) uint32 {
	return 1000 * (1 + bs1) / (1 + sum)
}
