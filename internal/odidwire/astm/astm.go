// Package astm is a concrete odidwire.Encoder implementation following
// the ASTM F3411 / OpenDroneID message group structure: one leading
// header byte (message type in the high nibble, protocol version in
// the low nibble) followed by a fixed-size message body, for a 25-byte
// message overall. It packs the same field groups the ODID record
// holds (BasicID, Location, SelfID, System, OperatorID) in the same
// order the standard's message pack uses.
//
// This package does not claim byte-for-byte regulatory compliance with
// the ASTM F3411 / ASD-STAN standards text — spec.md places the actual
// wire-frame encoder library out of scope as an external collaborator
// (real deployments would link something like opendroneid). It exists
// so the core (C6/C7/C8) has a concrete, testable Encoder to depend on
// that exercises the same interface a vetted implementation would.
package astm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ardupilot/remoteid-module/internal/models"
	"github.com/ardupilot/remoteid-module/internal/odidwire"
)

const (
	msgTypeBasicID      = 0x0
	msgTypeLocation     = 0x1
	msgTypeAuth         = 0x2
	msgTypeSelfID       = 0x3
	msgTypeSystem       = 0x4
	msgTypeOperatorID   = 0x5
	msgTypeMessagePack  = 0xF
	protocolVersion     = 0x2
	messageSize         = 25
	messagePackHeaderSz = 3 // header byte + single-message-size + count
)

// Codec is the astm Encoder. It holds no state; a zero value is ready
// to use.
type Codec struct{}

var _ odidwire.Encoder = Codec{}

func header(msgType byte) byte {
	return (msgType << 4) | protocolVersion
}

// EncodeBasicID implements odidwire.Encoder.
func (Codec) EncodeBasicID(b models.BasicID) ([]byte, error) {
	out := make([]byte, messageSize)
	out[0] = header(msgTypeBasicID)
	out[1] = (byte(b.IDType) << 4) | byte(b.UAType)
	copy(out[2:22], b.UASID[:])
	return out, nil
}

// EncodeLocation implements odidwire.Encoder.
func (Codec) EncodeLocation(l models.Location) ([]byte, error) {
	out := make([]byte, messageSize)
	out[0] = header(msgTypeLocation)
	out[1] = (byte(l.Status) << 4) | (byte(l.HeightRef) << 1)
	out[2] = byte(l.Direction / 2)
	out[3] = byte(l.SpeedHorizontal)
	out[4] = byte(l.SpeedVertical)
	binary.LittleEndian.PutUint32(out[5:9], uint32(int32(l.Latitude*1e7)))
	binary.LittleEndian.PutUint32(out[9:13], uint32(int32(l.Longitude*1e7)))
	binary.LittleEndian.PutUint16(out[13:15], uint16(l.AltitudeBaro))
	binary.LittleEndian.PutUint16(out[15:17], uint16(l.AltitudeGeo))
	binary.LittleEndian.PutUint16(out[17:19], uint16(l.Height))
	out[19] = byte(l.HorizAccuracy)
	out[20] = (byte(l.VertAccuracy) << 4) | byte(l.BaroAccuracy)
	out[21] = (byte(l.SpeedAccuracy) << 4) | byte(l.TimestampAccuracy)
	binary.LittleEndian.PutUint16(out[22:24], uint16(l.TimeStamp*10)) // tenths of a second
	return out, nil
}

// EncodeSelfID implements odidwire.Encoder.
func (Codec) EncodeSelfID(s models.SelfID) ([]byte, error) {
	out := make([]byte, messageSize)
	out[0] = header(msgTypeSelfID)
	out[1] = byte(s.DescType)
	copy(out[2:25], s.Desc[:])
	return out, nil
}

// EncodeSystem implements odidwire.Encoder.
func (Codec) EncodeSystem(s models.System) ([]byte, error) {
	out := make([]byte, messageSize)
	out[0] = header(msgTypeSystem)
	out[1] = (byte(s.OperatorLocationType) << 2) | byte(s.ClassificationType)
	binary.LittleEndian.PutUint32(out[2:6], uint32(int32(s.OperatorLatitude*1e7)))
	binary.LittleEndian.PutUint32(out[6:10], uint32(int32(s.OperatorLongitude*1e7)))
	binary.LittleEndian.PutUint16(out[10:12], s.AreaCount)
	out[12] = byte(s.AreaRadius)
	binary.LittleEndian.PutUint16(out[13:15], uint16(s.AreaCeiling))
	binary.LittleEndian.PutUint16(out[15:17], uint16(s.AreaFloor))
	out[17] = (byte(s.CategoryEU) << 4) | byte(s.ClassEU)
	binary.LittleEndian.PutUint16(out[18:20], uint16(s.OperatorAltitudeGeo))
	binary.LittleEndian.PutUint32(out[20:24], s.Timestamp)
	return out, nil
}

// EncodeOperatorID implements odidwire.Encoder.
func (Codec) EncodeOperatorID(o models.OperatorID) ([]byte, error) {
	out := make([]byte, messageSize)
	out[0] = header(msgTypeOperatorID)
	out[1] = byte(o.IDType)
	copy(out[2:22], o.OperatorID[:])
	return out, nil
}

// encodeAuth packs one Authentication page. Page 0 carries the page
// count/last-page-index/length/timestamp metadata alongside the start
// of AuthData; later pages spend that space on AuthData instead, since
// only page 0 needs the metadata fields, matching the standard's own
// page-0-carries-extra-fields layout for this message.
func encodeAuth(a models.Authentication) []byte {
	out := make([]byte, messageSize)
	out[0] = header(msgTypeAuth)
	out[1] = (byte(a.AuthType) << 4) | byte(a.DataPage)
	if a.DataPage == 0 {
		out[2] = a.PageCount
		out[3] = a.LastPageIndex
		out[4] = a.Length
		binary.LittleEndian.PutUint32(out[5:9], a.Timestamp)
		copy(out[9:], a.AuthData[:])
	} else {
		copy(out[2:], a.AuthData[:])
	}
	return out
}

// BuildPack implements odidwire.Encoder. It emits the header byte, the
// per-message size and count, then every valid group's 25-byte message
// concatenated in ASTM's canonical order: BasicID(s), Location, Auth,
// SelfID, System, OperatorID.
func (c Codec) BuildPack(rec models.Record) ([]byte, error) {
	var msgs [][]byte

	for _, b := range rec.BasicIDs {
		if b.Valid {
			m, _ := c.EncodeBasicID(b)
			msgs = append(msgs, m)
		}
	}
	if !rec.LastLocationUpdate.IsZero() {
		m, _ := c.EncodeLocation(rec.Location)
		msgs = append(msgs, m)
	}
	for i := 0; i < len(rec.Auth); i++ {
		if rec.AuthPagesPresent&(1<<uint(i)) != 0 {
			msgs = append(msgs, encodeAuth(rec.Auth[i]))
		}
	}
	if rec.SelfID.Valid {
		m, _ := c.EncodeSelfID(rec.SelfID)
		msgs = append(msgs, m)
	}
	if rec.System.Valid {
		m, _ := c.EncodeSystem(rec.System)
		msgs = append(msgs, m)
	}
	if rec.Operator.Valid {
		m, _ := c.EncodeOperatorID(rec.Operator)
		msgs = append(msgs, m)
	}

	if len(msgs) == 0 {
		return nil, fmt.Errorf("astm: no valid message groups to pack")
	}
	if len(msgs) > 255 {
		return nil, fmt.Errorf("astm: too many messages for a single pack: %d", len(msgs))
	}

	out := make([]byte, 0, messagePackHeaderSz+len(msgs)*messageSize)
	out = append(out, header(msgTypeMessagePack), messageSize, byte(len(msgs)))
	for _, m := range msgs {
		out = append(out, m...)
	}
	return out, nil
}

// BuildNANSync implements odidwire.Encoder. The sync beacon carries no
// ODID payload, only the source MAC, matching the NAN discovery
// beacon's role of announcing the device before the action frame.
func (Codec) BuildNANSync(mac [6]byte) ([]byte, error) {
	out := make([]byte, 6)
	copy(out, mac[:])
	return out, nil
}

// BuildBeacon implements odidwire.Encoder, wrapping the message pack in
// a minimal 802.11 beacon skeleton: fixed parameters, an SSID IE, and
// the vendor-specific IE carrying the pack. The caller is responsible
// for extracting the vendor-IE bytes out of the returned frame and
// installing them per spec.md §4.7; BuildBeacon only needs to produce
// a self-consistent frame the same driver primitive can transmit
// as-is.
func (c Codec) BuildBeacon(rec models.Record, mac [6]byte, ssid string, periodMS uint32, counter uint8) ([]byte, error) {
	pack, err := c.BuildPack(rec)
	if err != nil {
		return nil, err
	}
	if len(ssid) > 32 {
		return nil, fmt.Errorf("astm: ssid too long: %d bytes", len(ssid))
	}

	var out []byte
	out = append(out, mac[:]...)
	beaconInterval := uint16(math.Max(1, float64(periodMS)/1.024)) // TUs, 1.024ms each
	var bi [2]byte
	binary.LittleEndian.PutUint16(bi[:], beaconInterval)
	out = append(out, bi[:]...)

	out = append(out, 0, byte(len(ssid)))
	out = append(out, []byte(ssid)...)

	out = append(out, 0xDD, 0xFA, 0x0B, 0xBC, 0x0D, counter)
	out = append(out, pack...)

	return out, nil
}
