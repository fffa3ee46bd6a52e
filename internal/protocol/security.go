package protocol

import (
	"encoding/binary"
	"fmt"
)

// SecurityInfo is the decoded GET_SECURITY_INFO (0x14) response, spec
// §12's supplement beyond bare chip-ID extraction: real ROM loaders
// report secure-boot and flash-encryption state alongside the chip ID.
type SecurityInfo struct {
	Flags               uint32
	FlashCryptCnt       byte
	SecureBootEnabled   bool
	SecureBootAggressive bool
	FlashEncryptEnabled bool
	ChipID              uint32
	ApiVersion          uint32
}

const (
	secInfoFlagSecureBoot           = 1 << 0
	secInfoFlagSecureBootAggressive = 1 << 4
	secInfoFlagFlashEncrypt         = 1 << 1
)

// ParseSecurityInfo decodes a GET_SECURITY_INFO response body. The
// teacher's ParseSecurityInfo only read the first 4 bytes as a chip ID;
// this reads the full esptool-documented layout (flags, flash_crypt_cnt,
// key purposes[7], chip_id, api_version) when present, falling back to
// chip-ID-only decoding for shorter bodies so older ROM revisions that
// truncate the response still parse.
func ParseSecurityInfo(data []byte) (*SecurityInfo, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("protocol: security info too short: %d bytes", len(data))
	}
	if len(data) < 20 {
		// Older/short responses: esptool treats the whole body as just the
		// chip ID word.
		return &SecurityInfo{ChipID: binary.LittleEndian.Uint32(data[0:4])}, nil
	}
	info := &SecurityInfo{
		Flags: binary.LittleEndian.Uint32(data[0:4]),
	}
	info.SecureBootEnabled = info.Flags&secInfoFlagSecureBoot != 0
	info.SecureBootAggressive = info.Flags&secInfoFlagSecureBootAggressive != 0
	info.FlashEncryptEnabled = info.Flags&secInfoFlagFlashEncrypt != 0

	info.FlashCryptCnt = data[4]
	// bytes [5:12] are 7 key-purpose bytes espflash doesn't currently surface.
	info.ChipID = binary.LittleEndian.Uint32(data[12:16])
	info.ApiVersion = binary.LittleEndian.Uint32(data[16:20])
	return info, nil
}
