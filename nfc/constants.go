package nfc

// MIFARE Classic key type constants for authentication
const (
	// KeyTypeA is used for MIFARE Classic Key A authentication
	KeyTypeA = 0x60
	// KeyTypeB is used for MIFARE Classic Key B authentication
	KeyTypeB = 0x61
)

// Common MIFARE Classic keys
var (
	// KeyDefault is the factory default key (all 0xFF)
	KeyDefault = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	// KeyNFCForum is the NFC Forum public key for NDEF
	KeyNFCForum = []byte{0xD3, 0xF7, 0xD3, 0xF7, 0xD3, 0xF7}
	// KeyMAD is the MAD (MIFARE Application Directory) key
	KeyMAD = []byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}
)

// Native tag command bytes shared by the client frames and the hardware
// drivers that interpret them.
const (
	CmdClassicRead      = 0x30
	CmdClassicWrite     = 0xA0
	CmdClassicIncrement = 0xC1
	CmdClassicDecrement = 0xC0
	CmdClassicRestore   = 0xC2
	CmdClassicTransfer  = 0xB0

	CmdUltralightRead  = 0x30
	CmdUltralightWrite = 0xA2

	CmdIso15693ReadSingle    = 0x20
	CmdIso15693WriteSingle   = 0x21
	CmdIso15693LockBlock     = 0x22
	CmdIso15693ReadMultiple  = 0x23
	CmdIso15693WriteMultiple = 0x24

	// Iso15693ErrorFlag is set in the first response byte when the tag
	// rejected the command.
	Iso15693ErrorFlag = 0x01
)

// Maximum transceive lengths for technologies whose limit is not reported by
// the controller.
const (
	DefaultMaxTransceiveLength = 253
	FelicaMaxTransceiveLength  = 255
	// IsoDepShortMaxTransceiveLength fits a short APDU with Lc and Le.
	IsoDepShortMaxTransceiveLength = 261
	// IsoDepExtendedMaxTransceiveLength fits an extended APDU.
	IsoDepExtendedMaxTransceiveLength = 65546
)
