package protocol

// Op identifies a ROM/stub command opcode, spec §6. It replaces the
// teacher's flat byte constants (which only covered the single ESP32-C3
// command subset it used) with the full opcode table every family shares.
type Op byte

const (
	OpFlashBegin      Op = 0x02
	OpFlashData       Op = 0x03
	OpFlashEnd        Op = 0x04
	OpMemBegin        Op = 0x05
	OpMemEnd          Op = 0x06
	OpMemData         Op = 0x07
	OpSync            Op = 0x08
	OpWriteReg        Op = 0x09
	OpReadReg         Op = 0x0A
	OpSpiSetParams    Op = 0x0B
	OpSpiAttach       Op = 0x0D
	OpChangeBaudrate  Op = 0x0F
	OpFlashDeflBegin  Op = 0x10
	OpFlashDeflData   Op = 0x11
	OpFlashDeflEnd    Op = 0x12
	OpSpiFlashMD5     Op = 0x13
	OpGetSecurityInfo Op = 0x14
	OpEraseFlash      Op = 0xD0
	OpEraseRegion     Op = 0xD1
	OpReadFlash       Op = 0xD2
)

var opNames = map[Op]string{
	OpFlashBegin:      "FLASH_BEGIN",
	OpFlashData:       "FLASH_DATA",
	OpFlashEnd:        "FLASH_END",
	OpMemBegin:        "MEM_BEGIN",
	OpMemEnd:          "MEM_END",
	OpMemData:         "MEM_DATA",
	OpSync:            "SYNC",
	OpWriteReg:        "WRITE_REG",
	OpReadReg:         "READ_REG",
	OpSpiSetParams:    "SPI_SET_PARAMS",
	OpSpiAttach:       "SPI_ATTACH",
	OpChangeBaudrate:  "CHANGE_BAUDRATE",
	OpFlashDeflBegin:  "FLASH_DEFL_BEGIN",
	OpFlashDeflData:   "FLASH_DEFL_DATA",
	OpFlashDeflEnd:    "FLASH_DEFL_END",
	OpSpiFlashMD5:     "SPI_FLASH_MD5",
	OpGetSecurityInfo: "GET_SECURITY_INFO",
	OpEraseFlash:      "ERASE_FLASH",
	OpEraseRegion:     "ERASE_REGION",
	OpReadFlash:       "READ_FLASH",
}

func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return "UNKNOWN"
}

const (
	DirRequest  = 0x00
	DirResponse = 0x01

	// ChecksumSeed is the XOR seed applied to command data bodies that
	// carry a checksum (FLASH_DATA/FLASH_DEFL_DATA/MEM_DATA).
	ChecksumSeed byte = 0xEF

	FlashBlockSizeRom  = 0x400
	FlashBlockSizeStub = 0x4000
	FlashSectorSize    = 0x1000
)

// checksummed marks the opcodes whose data body is covered by the header
// checksum field; every other opcode sends a zero checksum.
var checksummed = map[Op]bool{
	OpFlashData:     true,
	OpFlashDeflData: true,
	OpMemData:       true,
}

// RequiresChecksum reports whether op's checksum field must reflect the
// XOR of its data body.
func RequiresChecksum(op Op) bool {
	return checksummed[op]
}

// romErrorMessages names the ROM bootloader's status-trailer error codes,
// spec §7 (generalizing the teacher's single-chip ErrorMessage table,
// which is the same table under a different constant naming).
var romErrorMessages = map[byte]string{
	0x05: "invalid message / unrecognized command",
	0x06: "failed to act on command",
	0x07: "invalid CRC in message",
	0x08: "flash write error",
	0x09: "flash read error",
	0x0A: "flash read length error",
	0x0B: "deflate error",
}

// RomErrorMessage returns a human-readable description of a ROM trailer
// error code, or "unknown error" if the code isn't recognized.
func RomErrorMessage(code byte) string {
	if msg, ok := romErrorMessages[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsInvalidRecvMsg reports whether code is the ROM's InvalidRecvMsg class
// (0x05), the one ROM status error the protocol engine retries on.
func IsInvalidRecvMsg(code byte) bool {
	return code == 0x05
}
