// Package security implements the Secure Command subsystem (C10):
// session-key issuance, Ed25519 signature verification and the
// command dispatch table (parameter writes, public-key management,
// OTA firmware verification), ported from transport.cpp's
// check_signature/make_session_key and mavlink_secure_command.cpp's
// operation switch. Carried over nearly unchanged into Go since both
// are already small, self-contained algorithms with no link-specific
// state; only the transport framing around them (MAVLink vs DroneCAN)
// differs, and that framing lives in the adapters, not here.
package security

import (
	"crypto/ed25519"
	"encoding/binary"
	"strings"

	"github.com/ardupilot/remoteid-module/internal/params"
)

// Operation identifies a secure command, mirroring SECURE_COMMAND_*.
type Operation uint32

const (
	OpGetSessionKey         Operation = 0
	OpGetRemoteIDSessionKey Operation = 1
	OpGetPublicKeys         Operation = 2
	OpSetPublicKeys         Operation = 3
	OpRemovePublicKeys      Operation = 4
	OpSetRemoteIDConfig     Operation = 5
)

// Result mirrors the MAV_RESULT codes the original reply carries.
type Result uint8

const (
	ResultAccepted    Result = 0
	ResultFailed      Result = 4
	ResultUnsupported Result = 3
	ResultDenied      Result = 2
)

const publicKeyLen = 32

// CommandFrame is the shared wire frame for MAVLink SECURE_COMMAND and
// DroneCAN remoteid.SecureCommand: the last sig_length bytes of Data
// are the Ed25519 signature, the rest is the payload.
type CommandFrame struct {
	Sequence  uint32
	Operation Operation
	SigLength uint8
	Data      []byte // payload, length = len(Data) - int(SigLength)
}

func (f CommandFrame) payloadLen() int {
	n := len(f.Data) - int(f.SigLength)
	if n < 0 {
		return 0
	}
	return n
}

func (f CommandFrame) payload() []byte {
	return f.Data[:f.payloadLen()]
}

func (f CommandFrame) signature() []byte {
	return f.Data[f.payloadLen():]
}

// Dispatcher owns the live session key and the Parameters (C9) store
// that public-key and config commands act on.
type Dispatcher struct {
	params     *params.Parameters
	deviceID   [8]byte
	sessionKey [8]byte
}

// NewDispatcher creates a Dispatcher bound to p. deviceID seeds the
// session key derivation, normally the module's MAC address.
func NewDispatcher(p *params.Parameters, deviceID [8]byte) *Dispatcher {
	return &Dispatcher{params: p, deviceID: deviceID}
}

// CheckSignature implements Transport::check_signature: if no public
// keys are configured every command is accepted (development mode);
// otherwise sig_length must be exactly 64 and at least one configured
// key must verify over
// sequence‖operation‖payload[‖session_key unless this is a session-key request].
func (d *Dispatcher) CheckSignature(f CommandFrame) bool {
	if d.params.NoPublicKeys() {
		return true
	}
	if f.SigLength != ed25519.SignatureSize {
		return false
	}

	message := signedMessage(f, d.sessionKey)
	sig := f.signature()

	for i := 0; i < params.MaxPublicKeys; i++ {
		key, ok := d.params.GetPublicKey(i)
		if !ok {
			continue
		}
		if ed25519.Verify(key[:], message, sig) {
			return true
		}
	}
	return false
}

func signedMessage(f CommandFrame, sessionKey [8]byte) []byte {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], f.Sequence)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(f.Operation))

	msg := make([]byte, 0, 8+f.payloadLen()+8)
	msg = append(msg, hdr[:]...)
	msg = append(msg, f.payload()...)
	if f.Operation != OpGetSessionKey && f.Operation != OpGetRemoteIDSessionKey {
		msg = append(msg, sessionKey[:]...)
	}
	return msg
}

// Reply is what Handle returns for the caller's transport to frame and
// send back as a SECURE_COMMAND_REPLY / SecureCommandResponse.
type Reply struct {
	Sequence  uint32
	Operation Operation
	Result    Result
	Data      []byte
}

// Handle verifies f's signature, dispatches it per mavlink_secure_command.cpp's
// switch, and returns the reply to send back.
func (d *Dispatcher) Handle(f CommandFrame) Reply {
	reply := Reply{Sequence: f.Sequence, Operation: f.Operation, Result: ResultUnsupported}

	if !d.CheckSignature(f) {
		reply.Result = ResultDenied
		return reply
	}

	switch f.Operation {
	case OpGetSessionKey, OpGetRemoteIDSessionKey:
		d.sessionKey = MakeSessionKey(d.deviceID)
		reply.Data = append([]byte(nil), d.sessionKey[:]...)
		reply.Result = ResultAccepted

	case OpGetPublicKeys:
		reply.Result = d.handleGetPublicKeys(f, &reply)

	case OpSetPublicKeys:
		reply.Result = d.handleSetPublicKeys(f)

	case OpRemovePublicKeys:
		reply.Result = d.handleRemovePublicKeys(f)

	case OpSetRemoteIDConfig:
		reply.Result = d.handleSetConfig(f)
	}

	return reply
}

func (d *Dispatcher) handleGetPublicKeys(f CommandFrame, reply *Reply) Result {
	payload := f.payload()
	if len(payload) != 2 {
		return ResultUnsupported
	}
	keyIdx := int(payload[0])
	numKeys := int(payload[1])
	maxFetch := 250 / publicKeyLen // reply payload budget, mirrors sizeof(reply.data)-1

	if keyIdx >= params.MaxPublicKeys || numKeys > maxFetch ||
		keyIdx+numKeys > params.MaxPublicKeys || d.params.NoPublicKeys() {
		return ResultFailed
	}

	out := make([]byte, 1+numKeys*publicKeyLen)
	out[0] = byte(keyIdx)
	for i := 0; i < numKeys; i++ {
		key, _ := d.params.GetPublicKey(i + keyIdx)
		copy(out[1+i*publicKeyLen:], key[:])
	}
	reply.Data = out
	return ResultAccepted
}

func (d *Dispatcher) handleSetPublicKeys(f CommandFrame) Result {
	payload := f.payload()
	if len(payload) < publicKeyLen+1 {
		return ResultFailed
	}
	keyIdx := int(payload[0])
	numKeys := (len(payload) - 1) / publicKeyLen
	if numKeys == 0 {
		return ResultFailed
	}
	if keyIdx >= params.MaxPublicKeys || keyIdx+numKeys > params.MaxPublicKeys {
		return ResultFailed
	}

	failed := false
	for i := 0; i < numKeys; i++ {
		var key [32]byte
		copy(key[:], payload[1+i*publicKeyLen:1+(i+1)*publicKeyLen])
		if err := d.params.SetPublicKey(keyIdx+i, key); err != nil {
			failed = true
		}
	}
	if failed {
		return ResultFailed
	}
	return ResultAccepted
}

func (d *Dispatcher) handleRemovePublicKeys(f CommandFrame) Result {
	payload := f.payload()
	if len(payload) != 2 {
		return ResultFailed
	}
	keyIdx := int(payload[0])
	numKeys := int(payload[1])
	if numKeys == 0 {
		return ResultFailed
	}
	if keyIdx >= params.MaxPublicKeys || keyIdx+numKeys > params.MaxPublicKeys {
		return ResultFailed
	}
	for i := 0; i < numKeys; i++ {
		_ = d.params.RemovePublicKey(keyIdx + i)
	}
	return ResultAccepted
}

// handleSetConfig parses payload as a NUL-separated set of NAME=VALUE
// pairs and applies each through Parameters.SetByNameString, matching
// SECURE_COMMAND_SET_REMOTEID_CONFIG's command buffer format.
func (d *Dispatcher) handleSetConfig(f CommandFrame) Result {
	payload := f.payload()
	result := ResultAccepted

	for _, field := range strings.Split(string(payload), "\x00") {
		if field == "" {
			continue
		}
		name, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		if err := d.params.SetByNameString(name, value); err != nil {
			result = ResultFailed
		}
	}
	return result
}
