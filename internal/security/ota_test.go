package security

import (
	"crypto/ed25519"
	"testing"

	"github.com/ardupilot/remoteid-module/internal/params"
)

func buildImage(t *testing.T, priv ed25519.PrivateKey, boardID uint32, leadLen int) []byte {
	t.Helper()
	body := make([]byte, leadLen)
	for i := range body {
		body[i] = byte(i)
	}

	var sizeField, boardField [4]byte
	size := uint32(len(body))
	sizeField[0] = byte(size)
	sizeField[1] = byte(size >> 8)
	sizeField[2] = byte(size >> 16)
	sizeField[3] = byte(size >> 24)
	boardField[0] = byte(boardID)
	boardField[1] = byte(boardID >> 8)
	boardField[2] = byte(boardID >> 16)
	boardField[3] = byte(boardID >> 24)

	sig := ed25519.Sign(priv, body)

	image := append([]byte{}, body...)
	image = append(image, appDescriptorMagic[:]...)
	image = append(image, sizeField[:]...)
	image = append(image, boardField[:]...)
	image = append(image, sig...)
	return image
}

func TestFindAppDescriptorLocatesMagic(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	image := buildImage(t, priv, 42, 64)

	ad, ok := FindAppDescriptor(image)
	if !ok {
		t.Fatal("expected to find app_descriptor")
	}
	if ad.BoardID != 42 {
		t.Errorf("BoardID = %d, want 42", ad.BoardID)
	}
	if int(ad.ImageSize) != 64 {
		t.Errorf("ImageSize = %d, want 64", ad.ImageSize)
	}
}

func TestVerifyImageAcceptsWhenNoKeysConfigured(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	image := buildImage(t, priv, 1, 32)
	p := params.New(nil)
	if err := VerifyImage(image, p); err != nil {
		t.Fatalf("VerifyImage with no configured keys should accept: %v", err)
	}
}

func TestVerifyImageAcceptsValidSignature(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	image := buildImage(t, priv, 1, 32)
	p := params.New(nil)
	var key [32]byte
	copy(key[:], pub)
	p.SetPublicKey(0, key)

	if err := VerifyImage(image, p); err != nil {
		t.Fatalf("VerifyImage: %v", err)
	}
}

func TestVerifyImageRejectsWrongKey(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	otherPub, _, _ := ed25519.GenerateKey(nil)
	image := buildImage(t, priv, 1, 32)
	p := params.New(nil)
	var key [32]byte
	copy(key[:], otherPub)
	p.SetPublicKey(0, key)

	if err := VerifyImage(image, p); err == nil {
		t.Fatal("expected VerifyImage to reject a signature over an untrusted key")
	}
}

func TestVerifyImageRejectsMissingDescriptor(t *testing.T) {
	p := params.New(nil)
	if err := VerifyImage([]byte("no descriptor here"), p); err == nil {
		t.Fatal("expected error when app_descriptor is absent")
	}
}

func TestVerifyBoardIDAcceptsAnyWhenLockLevelMinusOne(t *testing.T) {
	ad := AppDescriptor{BoardID: 99}
	if !VerifyBoardID(ad, 1, -1) {
		t.Fatal("lock_level -1 must accept any board ID")
	}
}

func TestVerifyBoardIDRejectsMismatch(t *testing.T) {
	ad := AppDescriptor{BoardID: 99}
	if VerifyBoardID(ad, 1, 0) {
		t.Fatal("a non-zero board ID mismatch must be rejected when locked")
	}
}

func TestVerifyBoardIDAcceptsZeroBoardIDWhenLocked(t *testing.T) {
	ad := AppDescriptor{BoardID: 0}
	if !VerifyBoardID(ad, 1, 0) {
		t.Fatal("a zero (unset) board ID in the descriptor must not be rejected")
	}
}
