package security

import (
	"crypto/ed25519"
	"encoding/binary"
	"testing"

	"github.com/ardupilot/remoteid-module/internal/params"
)

func signFrame(priv ed25519.PrivateKey, seq uint32, op Operation, payload []byte, sessionKey [8]byte) CommandFrame {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], seq)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(op))

	msg := append([]byte{}, hdr[:]...)
	msg = append(msg, payload...)
	if op != OpGetSessionKey && op != OpGetRemoteIDSessionKey {
		msg = append(msg, sessionKey[:]...)
	}
	sig := ed25519.Sign(priv, msg)

	data := append([]byte{}, payload...)
	data = append(data, sig...)
	return CommandFrame{Sequence: seq, Operation: op, SigLength: uint8(len(sig)), Data: data}
}

func TestCheckSignatureAcceptsAnyCommandWithNoKeysConfigured(t *testing.T) {
	d := NewDispatcher(params.New(nil), [8]byte{})
	f := CommandFrame{Sequence: 1, Operation: OpSetRemoteIDConfig, Data: []byte("junk")}
	if !d.CheckSignature(f) {
		t.Fatal("a dispatcher with no configured public keys must accept any signature (development mode)")
	}
}

func TestCheckSignatureRejectsWrongSigLength(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	p := params.New(nil)
	var key [32]byte
	copy(key[:], pub)
	p.SetPublicKey(0, key)

	d := NewDispatcher(p, [8]byte{})
	f := CommandFrame{Sequence: 1, Operation: OpSetRemoteIDConfig, SigLength: 10, Data: make([]byte, 10)}
	if d.CheckSignature(f) {
		t.Fatal("a signature whose length is not 64 must always be rejected")
	}
}

func TestCheckSignatureAcceptsValidEd25519Signature(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	p := params.New(nil)
	var key [32]byte
	copy(key[:], pub)
	p.SetPublicKey(0, key)

	d := NewDispatcher(p, [8]byte{})
	f := signFrame(priv, 42, OpGetSessionKey, nil, [8]byte{})
	if !d.CheckSignature(f) {
		t.Fatal("a correctly signed frame over a configured key must verify")
	}
}

func TestCheckSignatureRejectsTamperedPayload(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	p := params.New(nil)
	var key [32]byte
	copy(key[:], pub)
	p.SetPublicKey(0, key)

	d := NewDispatcher(p, [8]byte{})
	f := signFrame(priv, 42, OpSetRemoteIDConfig, []byte("WIFI_CHAN=5"), [8]byte{})
	f.Data[0] = 'X' // corrupt the payload after signing
	if d.CheckSignature(f) {
		t.Fatal("a tampered payload must fail signature verification")
	}
}

func TestHandleGetSessionKeyIssuesNewKeyEachTime(t *testing.T) {
	d := NewDispatcher(params.New(nil), [8]byte{})
	r1 := d.Handle(CommandFrame{Operation: OpGetSessionKey})
	r2 := d.Handle(CommandFrame{Sequence: 1, Operation: OpGetSessionKey})
	if r1.Result != ResultAccepted || r2.Result != ResultAccepted {
		t.Fatal("GET_SESSION_KEY must be accepted with no keys configured")
	}
	if len(r1.Data) != 8 || len(r2.Data) != 8 {
		t.Fatalf("session key reply length = %d/%d, want 8", len(r1.Data), len(r2.Data))
	}
	if string(r1.Data) == string(r2.Data) {
		t.Fatal("successive GET_SESSION_KEY replies returned the same key")
	}
}

func TestHandleSetRemoteIDConfigAppliesPairs(t *testing.T) {
	p := params.New(nil)
	d := NewDispatcher(p, [8]byte{})
	payload := []byte("WIFI_CHAN=9\x00BT4_RATE=2\x00")
	reply := d.Handle(CommandFrame{Operation: OpSetRemoteIDConfig, Data: payload})
	if reply.Result != ResultAccepted {
		t.Fatalf("result = %v, want accepted", reply.Result)
	}
	if p.WiFiChannel != 9 {
		t.Errorf("WiFiChannel = %d, want 9", p.WiFiChannel)
	}
	if p.BT4Rate != 2 {
		t.Errorf("BT4Rate = %v, want 2", p.BT4Rate)
	}
}

func TestHandleSetPublicKeysThenGetPublicKeysRoundTrip(t *testing.T) {
	p := params.New(nil)
	d := NewDispatcher(p, [8]byte{})

	pub, priv, _ := ed25519.GenerateKey(nil)
	var key [32]byte
	copy(key[:], pub)

	// First key goes in unsigned: no keys are configured yet, so the
	// dispatcher is still in development mode.
	setPayload := append([]byte{0}, key[:]...)
	setReply := d.Handle(CommandFrame{Operation: OpSetPublicKeys, Data: setPayload})
	if setReply.Result != ResultAccepted {
		t.Fatalf("SET_PUBLIC_KEYS result = %v, want accepted", setReply.Result)
	}

	// Once a key is configured, further commands must be signed with
	// the session key bound in (empty, since no GET_SESSION_KEY was
	// issued) and the newly-trusted private key.
	getFrame := signFrame(priv, 1, OpGetPublicKeys, []byte{0, 1}, d.sessionKey)
	getReply := d.Handle(getFrame)
	if getReply.Result != ResultAccepted {
		t.Fatalf("GET_PUBLIC_KEYS result = %v, want accepted", getReply.Result)
	}
	if len(getReply.Data) != 1+32 {
		t.Fatalf("reply length = %d, want 33", len(getReply.Data))
	}
	var got [32]byte
	copy(got[:], getReply.Data[1:])
	if got != key {
		t.Fatal("round-tripped public key does not match what was set")
	}
}

func TestHandleRemovePublicKeysClearsSlot(t *testing.T) {
	p := params.New(nil)
	pub, priv, _ := ed25519.GenerateKey(nil)
	var key [32]byte
	copy(key[:], pub)
	p.SetPublicKey(0, key)
	d := NewDispatcher(p, [8]byte{})

	frame := signFrame(priv, 1, OpRemovePublicKeys, []byte{0, 1}, d.sessionKey)
	reply := d.Handle(frame)
	if reply.Result != ResultAccepted {
		t.Fatalf("result = %v, want accepted", reply.Result)
	}
	if !p.NoPublicKeys() {
		t.Fatal("expected no public keys after REMOVE_PUBLIC_KEYS")
	}
}
