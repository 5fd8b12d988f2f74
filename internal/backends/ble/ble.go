// Package ble implements the BLE Backends (component C7): legacy
// (BT-4) phase-rotated advertising and long-range (BT-5) packed
// advertising, grounded on BLE_TX.cpp's phase table and framing.
//
// Real BLE-GAP control (advertising parameter registers, PHY
// selection, radio power) is out of scope for this module — that is
// the job of the vendor's BLE stack (ESP-IDF's esp_ble_gap_* calls in
// the original firmware). This package owns everything upstream of the
// radio: phase/counter discipline, MAC generation, advertising
// interval computation, and frame assembly. It hands the finished
// bytes to a small Driver collaborator.
package ble

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/ardupilot/remoteid-module/internal/models"
	"github.com/ardupilot/remoteid-module/internal/odidwire"
)

// Driver is the collaborator that owns the actual BLE-GAP radio. Its
// production implementation lives outside this repository.
type Driver interface {
	// SetMAC installs the random static address shared by all instances.
	SetMAC(mac [6]byte) error
	// SetAdvertisingData loads the payload for the given advertising
	// instance (0 = legacy, 1 = long-range).
	SetAdvertisingData(instance int, data []byte) error
	// SetScanResponse loads the scan-response payload for an instance.
	SetScanResponse(instance int, data []byte) error
	// Start begins advertising on all configured instances. Calling it
	// more than once must be harmless.
	Start() error
}

const (
	frameUUID  = 0xfa
	frameUUID2 = 0xff
	frameOUI   = 0x0d
)

// legacyPhaseCount is the number of rotating phases when dual-ID is
// present; without a second BasicID, phase 5 is skipped and the cycle
// is 6 long.
const legacyPhaseCount = 7

// Backend implements core.Backend for the BLE legacy and long-range
// advertisers. A single instance owns both since they share one MAC.
type Backend struct {
	driver  Driver
	encoder odidwire.Encoder

	mac     [6]byte
	started bool
	phase   uint8
	seq     [legacyPhaseCount]uint8
	lrSeq   uint8
}

// New creates a BLE backend. mac, if the zero value, is replaced with
// a freshly generated random static address on the first Send.
func New(driver Driver, encoder odidwire.Encoder) *Backend {
	return &Backend{driver: driver, encoder: encoder}
}

// Name implements core.Backend.
func (b *Backend) Name() string { return "ble" }

// Send implements core.Backend: advances the legacy phase by one and
// refreshes the long-range packed payload, then starts advertising if
// this is the first transmit.
func (b *Backend) Send(ctx context.Context, rec models.Record, armStatus models.ArmStatus, armReason string) error {
	if b.mac == ([6]byte{}) {
		if err := b.initMAC(); err != nil {
			return fmt.Errorf("ble: generating mac: %w", err)
		}
	}

	if err := b.sendLegacyPhase(rec); err != nil {
		return fmt.Errorf("ble: legacy phase: %w", err)
	}
	if err := b.sendLongRange(rec); err != nil {
		return fmt.Errorf("ble: long range: %w", err)
	}

	if !b.started {
		if err := b.driver.Start(); err != nil {
			return fmt.Errorf("ble: start: %w", err)
		}
		b.started = true
	}
	return nil
}

func (b *Backend) initMAC() error {
	var mac [6]byte
	if _, err := rand.Read(mac[:]); err != nil {
		return err
	}
	mac[0] |= 0xc0 // random static address, per the Bluetooth Core spec
	b.mac = mac
	return b.driver.SetMAC(mac)
}

// nextPhase returns the phase to transmit this call and advances the
// rotation, cycling modulo 7 when BasicID[1] is valid, else modulo 6
// (skipping phase 5, the dual-ID slot).
func (b *Backend) nextPhase(dualIDValid bool) uint8 {
	p := b.phase
	if p == 5 && !dualIDValid {
		p = 6
	}
	b.phase = (p + 1) % legacyPhaseCount
	return p
}

func (b *Backend) sendLegacyPhase(rec models.Record) error {
	phase := b.nextPhase(rec.BasicIDs[1].Valid)

	payload, ok, err := b.encodePhase(phase, rec)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	counter := b.seq[phase]
	b.seq[phase]++

	if phase == 6 {
		name := shortName(rec.BasicIDs[0])
		frame := legacyNameFrame(name)
		return b.driver.SetScanResponse(0, frame)
	}

	frame := frameHeader(counter)
	frame = append(frame, payload...)
	return b.driver.SetAdvertisingData(0, frame)
}

func (b *Backend) encodePhase(phase uint8, rec models.Record) ([]byte, bool, error) {
	switch phase {
	case 0:
		if rec.LastLocationUpdate.IsZero() {
			return nil, false, nil
		}
		p, err := b.encoder.EncodeLocation(rec.Location)
		return p, true, err
	case 1:
		if !rec.BasicIDs[0].Valid {
			return nil, false, nil
		}
		p, err := b.encoder.EncodeBasicID(rec.BasicIDs[0])
		return p, true, err
	case 2:
		if !rec.SelfID.Valid {
			return nil, false, nil
		}
		p, err := b.encoder.EncodeSelfID(rec.SelfID)
		return p, true, err
	case 3:
		if !rec.System.Valid {
			return nil, false, nil
		}
		p, err := b.encoder.EncodeSystem(rec.System)
		return p, true, err
	case 4:
		if !rec.Operator.Valid {
			return nil, false, nil
		}
		p, err := b.encoder.EncodeOperatorID(rec.Operator)
		return p, true, err
	case 5:
		if !rec.BasicIDs[1].Valid {
			return nil, false, nil
		}
		p, err := b.encoder.EncodeBasicID(rec.BasicIDs[1])
		return p, true, err
	case 6:
		return nil, true, nil // short-name phase, handled by the caller
	default:
		return nil, false, nil
	}
}

func (b *Backend) sendLongRange(rec models.Record) error {
	pack, err := b.encoder.BuildPack(rec)
	if err != nil {
		return err
	}
	if len(pack) == 0 {
		return nil
	}

	counter := b.lrSeq
	b.lrSeq++

	frame := []byte{byte(len(pack) + 5), 0x16, frameUUID, frameUUID2, frameOUI, counter}
	frame = append(frame, pack...)
	return b.driver.SetAdvertisingData(1, frame)
}

// frameHeader builds the legacy-phase header, an AD-structure length
// byte + UUID-based AD type + BlueMark company identifier + a
// per-group sequence counter.
func frameHeader(counter uint8) []byte {
	return []byte{0x1e, 0x16, frameUUID, frameUUID2, frameOUI, counter}
}

func shortName(basic models.BasicID) string {
	id := models.ASCIIString(basic.UASID[:])
	tail := id
	if len(id) > 4 {
		tail = id[len(id)-4:]
	}
	return "DroneBeacon_" + tail
}

func legacyNameFrame(name string) []byte {
	const adTypeShortName = 0x08
	out := []byte{0x02, 0x01, 0x06, byte(len(name) + 1), adTypeShortName}
	return append(out, []byte(name)...)
}

// advertisingIntervalUnits computes interval_max in 625us units for a
// target transmit rate (Hz) spread across the 7-phase legacy cycle.
func advertisingIntervalUnits(rateHz float64) (intervalMax, intervalMin uint16) {
	if rateHz <= 0 {
		rateHz = 1
	}
	maxUnits := (1000.0 / (rateHz * 7.0)) / 0.625
	return uint16(maxUnits), uint16(maxUnits * 0.75)
}

// longRangeIntervalUnits computes the BT-5 extended advertising
// interval for a single-payload-per-tick schedule.
func longRangeIntervalUnits(rateHz float64) (intervalMax, intervalMin uint16) {
	if rateHz <= 0 {
		rateHz = 1
	}
	maxUnits := (1000.0 / rateHz) / 0.625
	return uint16(maxUnits), uint16(maxUnits * 0.75)
}
