package security

import (
	"bytes"
	"crypto/ed25519"
	"fmt"

	"github.com/ardupilot/remoteid-module/internal/params"
)

// appDescriptorMagic is the byte-reversed APP_DESCRIPTOR_REV signature
// CheckFirmware::check_OTA_partition scans for, marking the start of
// the app_descriptor_t struct embedded near the end of a signed image.
var appDescriptorMagic = [8]byte{0x40, 0xa2, 0xe4, 0xf1, 0x5b, 0x07, 0x9e, 0x58}

const appDescriptorSize = 8 + 4 + 4 + 64 // magic + image_size + board_id + signature

// AppDescriptor is the trailer CheckFirmware looks for inside a
// candidate firmware image: its image size (for a self-consistency
// check), the board it targets, and the Ed25519 signature covering
// every image byte before the descriptor's magic.
type AppDescriptor struct {
	ImageSize uint32
	BoardID   uint32
	Signature [64]byte
	offset    int
}

// FindAppDescriptor scans image for the app_descriptor magic, the same
// memmem lookup check_OTA_partition performs.
func FindAppDescriptor(image []byte) (AppDescriptor, bool) {
	idx := bytes.Index(image, appDescriptorMagic[:])
	if idx < 0 || idx+appDescriptorSize > len(image) {
		return AppDescriptor{}, false
	}

	var ad AppDescriptor
	ad.offset = idx
	ad.ImageSize = leUint32(image[idx+8 : idx+12])
	ad.BoardID = leUint32(image[idx+12 : idx+16])
	copy(ad.Signature[:], image[idx+16:idx+16+64])
	return ad, true
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// VerifyImage implements CheckFirmware::check_OTA_partition /
// check_partition: locate the app_descriptor, validate its declared
// image_size against the descriptor's actual offset, then verify the
// signature (covering every byte before the descriptor) against
// each configured public key. If no public keys are configured the
// image is accepted unconditionally ("development mode"), matching
// the original's no_public_keys() escape hatch.
func VerifyImage(image []byte, p *params.Parameters) error {
	ad, ok := FindAppDescriptor(image)
	if !ok {
		return fmt.Errorf("security: app_descriptor not found in image")
	}
	if int(ad.ImageSize) != ad.offset {
		return fmt.Errorf("security: app_descriptor declares size %d, descriptor begins at %d", ad.ImageSize, ad.offset)
	}

	if p.NoPublicKeys() {
		return nil
	}

	signed := image[:ad.offset]
	for i := 0; i < params.MaxPublicKeys; i++ {
		key, ok := p.GetPublicKey(i)
		if !ok {
			continue
		}
		if ed25519.Verify(key[:], signed, ad.Signature[:]) {
			return nil
		}
	}
	return fmt.Errorf("security: no configured public key verifies this image")
}

// VerifyBoardID implements check_OTA_next's board-ID gate: if
// lockLevel is -1 any firmware is accepted regardless of signature; a
// non-zero board ID mismatch always rejects; otherwise the signature
// check result (from VerifyImage) is what matters.
func VerifyBoardID(ad AppDescriptor, ownBoardID uint32, lockLevel int8) bool {
	if lockLevel == -1 {
		return true
	}
	if ad.BoardID != 0 && ad.BoardID != ownBoardID {
		return false
	}
	return true
}
