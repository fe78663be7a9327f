package wire

// Operation identifies a tag session operation on the wire.
type Operation uint16

const (
	// OpConnect selects a technology on a tag.
	OpConnect Operation = 1

	// OpReconnect re-selects the connected technology.
	OpReconnect Operation = 2

	// OpIsPresent asks whether the tag is still in the field.
	OpIsPresent Operation = 3

	// OpIsNdef asks whether the tag holds an NDEF container.
	OpIsNdef Operation = 4

	// OpTransceive sends a command frame on the connected technology.
	OpTransceive Operation = 5

	// OpNdefRead reads the NDEF message bytes.
	OpNdefRead Operation = 6

	// OpNdefWrite replaces the NDEF message bytes.
	OpNdefWrite Operation = 7

	// OpNdefSetReadOnly makes the NDEF container permanently read-only.
	OpNdefSetReadOnly Operation = 8

	// OpSetSendCommandTimeout sets the per-technology command timeout.
	OpSetSendCommandTimeout Operation = 9

	// OpGetSendCommandTimeout reads the per-technology command timeout.
	OpGetSendCommandTimeout Operation = 10

	// OpResetTimeouts restores every command timeout to its default.
	OpResetTimeouts Operation = 11

	// OpCanSetReadOnly asks whether the controller can lock an NDEF forum type.
	OpCanSetReadOnly Operation = 12

	// OpGetMaxTransceiveLength asks for the largest frame a technology accepts.
	OpGetMaxTransceiveLength Operation = 13

	// OpDisconnect releases the connected technology.
	OpDisconnect Operation = 14

	// OpFormatNdef formats the tag with an empty NDEF container.
	OpFormatNdef Operation = 15

	// OpGetTechList lists the technologies the tag supports.
	OpGetTechList Operation = 16

	// OpIsSupportedApdusExtended asks whether extended-length APDUs are supported.
	OpIsSupportedApdusExtended Operation = 17
)

var operationNames = map[Operation]string{
	OpConnect:                  "Connect",
	OpReconnect:                "Reconnect",
	OpIsPresent:                "IsPresent",
	OpIsNdef:                   "IsNdef",
	OpTransceive:               "Transceive",
	OpNdefRead:                 "NdefRead",
	OpNdefWrite:                "NdefWrite",
	OpNdefSetReadOnly:          "NdefSetReadOnly",
	OpSetSendCommandTimeout:    "SetSendCommandTimeout",
	OpGetSendCommandTimeout:    "GetSendCommandTimeout",
	OpResetTimeouts:            "ResetTimeouts",
	OpCanSetReadOnly:           "CanSetReadOnly",
	OpGetMaxTransceiveLength:   "GetMaxTransceiveLength",
	OpDisconnect:               "Disconnect",
	OpFormatNdef:               "FormatNdef",
	OpGetTechList:              "GetTechList",
	OpIsSupportedApdusExtended: "IsSupportedApdusExtended",
}

// String returns the operation name.
func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return "Unknown"
}

// IsValid returns true if the operation is a known operation code.
func (o Operation) IsValid() bool {
	return o >= OpConnect && o <= OpIsSupportedApdusExtended
}

// Operations returns every operation in code order.
func Operations() []Operation {
	ops := make([]Operation, 0, len(operationNames))
	for op := OpConnect; op <= OpIsSupportedApdusExtended; op++ {
		ops = append(ops, op)
	}
	return ops
}
