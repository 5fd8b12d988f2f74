// Package wifi implements the Wi-Fi Backends (component C8): NAN
// sync/action frames and Beacon Vendor-IE injection, grounded on
// WiFi_TX.cpp's init/transmit split.
//
// As with internal/backends/ble, real 802.11 MAC-layer control (soft-AP
// setup, raw frame injection, vendor-IE installation) is out of scope
// for this module; this package depends only on a small Driver
// collaborator and owns everything upstream of it: MAC generation,
// channel/bandwidth configuration intent, beacon period computation,
// and vendor-IE framing.
package wifi

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/ardupilot/remoteid-module/internal/models"
	"github.com/ardupilot/remoteid-module/internal/odidwire"
)

// Driver is the collaborator owning the actual Wi-Fi radio. Its
// production implementation lives outside this repository.
type Driver interface {
	// ConfigureSoftAP brings up a hidden AP on channel (1-13), HT20.
	ConfigureSoftAP(mac [6]byte, channel int) error
	// TX80211 injects a raw 802.11 frame.
	TX80211(frame []byte) error
	// SetVendorIE installs ie as the vendor-specific information
	// element for the named frame type ("beacon" or "probe-resp"),
	// atomically replacing whatever vendor IE was previously installed.
	SetVendorIE(frameType string, ie []byte) error
}

const vendorElementID = 0xDD

var vendorOUI = [3]byte{0xFA, 0x0B, 0xBC}

const vendorOUIType = 0x0D

// vendorIEPayloadOffset is where the ODID payload begins inside the
// beacon frame the encoder builds (header + fixed beacon fields +
// SSID/rate/channel IEs precede it), per spec.md's "offset 58".
const vendorIEPayloadOffset = 58

// Backend implements core.Backend for the Wi-Fi NAN and Beacon
// Vendor-IE transports.
type Backend struct {
	driver  Driver
	encoder odidwire.Encoder

	cfg          Config
	mac          [6]byte
	configured   bool
	nanCounter   uint8
	beaconCount  uint8
}

// Config holds the soft-AP parameters a production driver would need
// at init time.
type Config struct {
	Channel  int     // 1-13
	RateHz   float64 // drives beacon period = 1000/RateHz ms
	SSID     string
}

// DefaultSSID is the placeholder SSID used for the hidden Beacon
// Vendor-IE transport, per spec.md.
const DefaultSSID = "UAS_ID_OPEN"

// New creates a Wi-Fi backend bound to cfg.
func New(driver Driver, encoder odidwire.Encoder, cfg Config) *Backend {
	if cfg.SSID == "" {
		cfg.SSID = DefaultSSID
	}
	if cfg.Channel < 1 || cfg.Channel > 13 {
		cfg.Channel = 6
	}
	return &Backend{driver: driver, encoder: encoder, cfg: cfg}
}

// Name implements core.Backend.
func (b *Backend) Name() string { return "wifi" }

// Send implements core.Backend: configures the soft-AP on first call,
// then transmits a NAN sync+action pair and refreshes the Beacon
// Vendor-IE.
func (b *Backend) Send(ctx context.Context, rec models.Record, armStatus models.ArmStatus, armReason string) error {
	if !b.configured {
		if err := b.init(); err != nil {
			return fmt.Errorf("wifi: init: %w", err)
		}
	}

	if err := b.sendNAN(rec); err != nil {
		return fmt.Errorf("wifi: nan: %w", err)
	}
	if err := b.updateBeaconVendorIE(rec); err != nil {
		return fmt.Errorf("wifi: beacon vendor ie: %w", err)
	}
	return nil
}

func (b *Backend) init() error {
	var mac [6]byte
	if _, err := rand.Read(mac[:]); err != nil {
		return err
	}
	mac[0] |= 0x02  // locally administered
	mac[0] &^= 0x01 // unicast, not multicast
	b.mac = mac

	if err := b.driver.ConfigureSoftAP(mac, b.cfg.Channel); err != nil {
		return err
	}
	b.configured = true
	return nil
}

func (b *Backend) sendNAN(rec models.Record) error {
	sync, err := b.encoder.BuildNANSync(b.mac)
	if err != nil {
		return err
	}
	if len(sync) > 0 {
		if err := b.driver.TX80211(sync); err != nil {
			return err
		}
	}

	b.nanCounter++
	pack, err := b.encoder.BuildPack(rec)
	if err != nil {
		return err
	}
	if len(pack) == 0 {
		return nil
	}
	action := nanActionFrame(b.mac, b.nanCounter, pack)
	return b.driver.TX80211(action)
}

// nanActionFrame wraps an already-packed ODID message pack as a NAN
// action frame body; the leading sequence counter lets receivers
// detect drops, per odid_wifi_build_message_pack_nan_action_frame's
// role in the original firmware.
func nanActionFrame(mac [6]byte, counter uint8, pack []byte) []byte {
	out := make([]byte, 0, 1+6+len(pack))
	out = append(out, counter)
	out = append(out, mac[:]...)
	out = append(out, pack...)
	return out
}

func (b *Backend) updateBeaconVendorIE(rec models.Record) error {
	periodMS := uint32(1000)
	if b.cfg.RateHz > 0 {
		periodMS = uint32(1000 / b.cfg.RateHz)
	}

	b.beaconCount++
	beacon, err := b.encoder.BuildBeacon(rec, b.mac, b.cfg.SSID, periodMS, b.beaconCount)
	if err != nil {
		return err
	}
	if len(beacon) <= vendorIEPayloadOffset {
		return nil
	}
	ie := vendorIE(beacon[vendorIEPayloadOffset:])

	if err := b.driver.SetVendorIE("beacon", ie); err != nil {
		return err
	}
	return b.driver.SetVendorIE("probe-resp", ie)
}

// vendorIE wraps payload in the element-id/OUI/OUI-type header the
// 802.11 vendor-specific IE format requires.
func vendorIE(payload []byte) []byte {
	out := make([]byte, 0, 2+3+1+len(payload))
	out = append(out, vendorElementID, byte(len(payload)+4))
	out = append(out, vendorOUI[:]...)
	out = append(out, vendorOUIType)
	out = append(out, payload...)
	return out
}
