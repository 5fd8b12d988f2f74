package ble

import (
	"context"
	"testing"
	"time"

	"github.com/ardupilot/remoteid-module/internal/models"
	"github.com/ardupilot/remoteid-module/internal/odidwire/astm"
)

type fakeDriver struct {
	mac        [6]byte
	macSet     bool
	advData    map[int][]byte
	scanResp   map[int][]byte
	startCalls int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{advData: map[int][]byte{}, scanResp: map[int][]byte{}}
}

func (f *fakeDriver) SetMAC(mac [6]byte) error {
	f.mac = mac
	f.macSet = true
	return nil
}

func (f *fakeDriver) SetAdvertisingData(instance int, data []byte) error {
	f.advData[instance] = append([]byte{}, data...)
	return nil
}

func (f *fakeDriver) SetScanResponse(instance int, data []byte) error {
	f.scanResp[instance] = append([]byte{}, data...)
	return nil
}

func (f *fakeDriver) Start() error {
	f.startCalls++
	return nil
}

func validRecord() models.Record {
	var rec models.Record
	rec.BasicIDs[0].Valid = true
	copy(rec.BasicIDs[0].UASID[:], []byte("UAS1234567"))
	rec.LastLocationUpdate = time.Unix(1000, 0)
	return rec
}

func TestSendGeneratesMACOnce(t *testing.T) {
	d := newFakeDriver()
	b := New(d, astm.Codec{})

	if err := b.Send(context.Background(), validRecord(), models.ArmStatusGoodToArm, ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !d.macSet {
		t.Fatal("expected MAC to be generated")
	}
	if d.mac[0]&0xc0 != 0xc0 {
		t.Errorf("mac[0] = %#x, want top two bits set (random static address)", d.mac[0])
	}

	mac := d.mac
	if err := b.Send(context.Background(), validRecord(), models.ArmStatusGoodToArm, ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if d.mac != mac {
		t.Fatal("MAC should not change across sends")
	}
}

func TestSendStartsAdvertisingOnlyOnce(t *testing.T) {
	d := newFakeDriver()
	b := New(d, astm.Codec{})

	for i := 0; i < 3; i++ {
		if err := b.Send(context.Background(), validRecord(), models.ArmStatusGoodToArm, ""); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if d.startCalls != 1 {
		t.Errorf("startCalls = %d, want 1", d.startCalls)
	}
}

func TestNextPhaseCyclesModulo6WithoutDualID(t *testing.T) {
	b := &Backend{}
	seen := map[uint8]bool{}
	for i := 0; i < 6; i++ {
		seen[b.nextPhase(false)] = true
	}
	if len(seen) != 6 {
		t.Fatalf("expected 6 distinct phases, got %d", len(seen))
	}
	if seen[5] {
		t.Error("phase 5 (dual-ID) must be skipped when dual-ID is not valid")
	}
	if b.nextPhase(false) != 0 {
		t.Error("expected cycle to wrap back to phase 0")
	}
}

func TestNextPhaseCyclesModulo7WithDualID(t *testing.T) {
	b := &Backend{}
	seen := map[uint8]bool{}
	for i := 0; i < 7; i++ {
		seen[b.nextPhase(true)] = true
	}
	if len(seen) != 7 {
		t.Fatalf("expected 7 distinct phases, got %d", len(seen))
	}
	if !seen[5] {
		t.Error("phase 5 must appear in the cycle when dual-ID is valid")
	}
}

func TestLegacyFrameHasVendorHeader(t *testing.T) {
	d := newFakeDriver()
	b := New(d, astm.Codec{})
	rec := validRecord()

	// phase 0 is Location, present in validRecord
	if err := b.sendLegacyPhase(rec); err != nil {
		t.Fatalf("sendLegacyPhase: %v", err)
	}
	frame := d.advData[0]
	if len(frame) < 6 {
		t.Fatalf("frame too short: %d bytes", len(frame))
	}
	if frame[0] != 0x1e || frame[1] != 0x16 || frame[2] != frameUUID || frame[3] != frameUUID2 || frame[4] != frameOUI {
		t.Errorf("unexpected legacy frame header: % x", frame[:5])
	}
}

func TestShortNamePhaseSetsScanResponse(t *testing.T) {
	d := newFakeDriver()
	b := New(d, astm.Codec{})
	b.phase = 6
	rec := validRecord()

	if err := b.sendLegacyPhase(rec); err != nil {
		t.Fatalf("sendLegacyPhase: %v", err)
	}
	if _, ok := d.scanResp[0]; !ok {
		t.Fatal("expected scan response to be set on the short-name phase")
	}
}

func TestLongRangeFrameIncludesCounter(t *testing.T) {
	d := newFakeDriver()
	b := New(d, astm.Codec{})
	rec := validRecord()

	if err := b.sendLongRange(rec); err != nil {
		t.Fatalf("sendLongRange: %v", err)
	}
	frame := d.advData[1]
	if len(frame) < 6 {
		t.Fatalf("frame too short: %d bytes", len(frame))
	}
	if frame[5] != 0 {
		t.Errorf("first long-range counter = %d, want 0", frame[5])
	}

	if err := b.sendLongRange(rec); err != nil {
		t.Fatalf("sendLongRange: %v", err)
	}
	if d.advData[1][5] != 1 {
		t.Errorf("second long-range counter = %d, want 1", d.advData[1][5])
	}
}

func TestAdvertisingIntervalUnitsScalesWithRate(t *testing.T) {
	maxFast, minFast := advertisingIntervalUnits(5)
	maxSlow, minSlow := advertisingIntervalUnits(1)
	if maxFast >= maxSlow {
		t.Errorf("faster rate should yield a smaller interval: fast=%d slow=%d", maxFast, maxSlow)
	}
	if minFast == 0 || minSlow == 0 {
		t.Error("interval_min must be non-zero")
	}
}

func TestLongRangeIntervalUnitsIsThreeQuartersMin(t *testing.T) {
	max, min := longRangeIntervalUnits(2)
	if float64(min) < float64(max)*0.7 || float64(min) > float64(max)*0.8 {
		t.Errorf("min/max ratio out of expected range: min=%d max=%d", min, max)
	}
}

func TestShortNameTruncatesToLastFourChars(t *testing.T) {
	var b models.BasicID
	copy(b.UASID[:], []byte("N1234567890"))
	name := shortName(b)
	if name != "DroneBeacon_7890" {
		t.Errorf("shortName = %q, want DroneBeacon_7890", name)
	}
}

func TestLocationPhaseSkippedWhenLocationNeverUpdated(t *testing.T) {
	b := &Backend{}
	var rec models.Record
	p, ok, err := b.encodePhase(0, rec)
	if err != nil {
		t.Fatalf("encodePhase: %v", err)
	}
	if ok || p != nil {
		t.Error("expected phase 0 to be skipped when Location has never been updated")
	}
}
