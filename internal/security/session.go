package security

import (
	"encoding/binary"
	"math/rand"
	"time"
)

// sessionKeyData mirrors Transport::make_session_key's source struct:
// a microsecond counter, an 8-byte device identifier and a random
// word, all laid out as a multiple of 4 bytes for crc64ECMA.
type sessionKeyData struct {
	timeUS uint32
	mac    [8]byte
	rnd    uint32
}

func (d sessionKeyData) bytes() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], d.timeUS)
	copy(buf[4:12], d.mac[:])
	binary.LittleEndian.PutUint32(buf[12:16], d.rnd)
	return buf
}

// MakeSessionKey derives a fresh 8-byte session key from the current
// time, a device identifier (normally a MAC address) and randomness,
// the same way Transport::make_session_key does. Binding commands to a
// session key rejects replay of commands captured from a prior
// session.
func MakeSessionKey(deviceID [8]byte) [8]byte {
	data := sessionKeyData{
		timeUS: uint32(time.Now().UnixMicro()),
		mac:    deviceID,
		rnd:    rand.Uint32(),
	}
	c64 := crc64ECMA(data.bytes())

	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], c64)
	return key
}
