// Package odidwire defines the wire-encoding collaborator boundary (C8
// in the component table): C6/C7/C8 depend only on the Encoder
// interface below and never interpret the bytes it returns, matching
// spec.md's "the core never interprets the bytes returned by the
// encoder" rule. The concrete ASTM F3411 framing lives in the astm
// subpackage so that a different wire format could be substituted
// without touching the backends.
package odidwire

import "github.com/ardupilot/remoteid-module/internal/models"

// Encoder turns ODID record fields into wire bytes for BLE/Wi-Fi
// transmission. All methods are pure: given the same input they
// produce the same output, and none retain a reference to their input.
type Encoder interface {
	// EncodeBasicID encodes a single BasicID message.
	EncodeBasicID(b models.BasicID) ([]byte, error)
	// EncodeLocation encodes a Location message.
	EncodeLocation(l models.Location) ([]byte, error)
	// EncodeSelfID encodes a SelfID message.
	EncodeSelfID(s models.SelfID) ([]byte, error)
	// EncodeSystem encodes a System message.
	EncodeSystem(s models.System) ([]byte, error)
	// EncodeOperatorID encodes an OperatorID message.
	EncodeOperatorID(o models.OperatorID) ([]byte, error)

	// BuildPack packs every valid group of rec into one ODID "message
	// pack" frame (used by BT-5 long-range, Wi-Fi NAN and Beacon).
	BuildPack(rec models.Record) ([]byte, error)
	// BuildNANSync builds a NAN synchronization-beacon frame for mac.
	BuildNANSync(mac [6]byte) ([]byte, error)
	// BuildBeacon builds an 802.11 beacon frame carrying rec's message
	// pack as a vendor-IE, with the given SSID, beacon period and
	// per-transmit sequence counter.
	BuildBeacon(rec models.Record, mac [6]byte, ssid string, periodMS uint32, counter uint8) ([]byte, error)
}
