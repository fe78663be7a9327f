package wire

// Status is the status word that begins every response.
type Status uint8

const (
	// StatusSuccess means the call reached the manager and completed.
	StatusSuccess Status = 0

	// StatusUnknownOperation means the operation code is not served.
	StatusUnknownOperation Status = 1

	// StatusMalformed means the request could not be decoded or validated.
	StatusMalformed Status = 2

	// StatusInternal means the service failed while handling the call.
	StatusInternal Status = 3

	// StatusUnavailable means the service is shutting down.
	StatusUnavailable Status = 4
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusUnknownOperation:
		return "UNKNOWN_OPERATION"
	case StatusMalformed:
		return "MALFORMED"
	case StatusInternal:
		return "INTERNAL"
	case StatusUnavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// ResultCode is the outcome of a single Transceive.
type ResultCode uint8

const (
	ResultSuccess        ResultCode = 0
	ResultFailure        ResultCode = 1
	ResultTagLost        ResultCode = 2
	ResultExceededLength ResultCode = 3
)

// String returns the result name.
func (r ResultCode) String() string {
	switch r {
	case ResultSuccess:
		return "Success"
	case ResultFailure:
		return "Failure"
	case ResultTagLost:
		return "TagLost"
	case ResultExceededLength:
		return "ExceededLength"
	default:
		return "Unknown"
	}
}
