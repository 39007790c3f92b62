package api

// Status is the remote service's operation status enum. The first
// block is the original interface's value set; the second block was
// added by the extended interface and only appears in replies from
// plugins that negotiated it.
type Status uint32

const (
	StatusOK Status = iota
	StatusNoLicense
	StatusLicenseExpired
	StatusSessionNotOpened
	StatusCannotHandle
	StatusInvalidState
	StatusBadValue
	StatusNotProvisioned
	StatusResourceBusy
	StatusInsufficientOutputProtection
	StatusDeviceRevoked
	StatusDecryptError
	StatusUnknown

	// Extended interface additions.
	StatusFrameTooLarge
	StatusInsufficientSecurity
	StatusSessionLostState
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNoLicense:
		return "NO_LICENSE"
	case StatusLicenseExpired:
		return "LICENSE_EXPIRED"
	case StatusSessionNotOpened:
		return "SESSION_NOT_OPENED"
	case StatusCannotHandle:
		return "CANNOT_HANDLE"
	case StatusInvalidState:
		return "INVALID_STATE"
	case StatusBadValue:
		return "BAD_VALUE"
	case StatusNotProvisioned:
		return "NOT_PROVISIONED"
	case StatusResourceBusy:
		return "RESOURCE_BUSY"
	case StatusInsufficientOutputProtection:
		return "INSUFFICIENT_OUTPUT_PROTECTION"
	case StatusDeviceRevoked:
		return "DEVICE_REVOKED"
	case StatusDecryptError:
		return "DECRYPT_ERROR"
	case StatusFrameTooLarge:
		return "FRAME_TOO_LARGE"
	case StatusInsufficientSecurity:
		return "INSUFFICIENT_SECURITY"
	case StatusSessionLostState:
		return "SESSION_LOST_STATE"
	default:
		return "UNKNOWN"
	}
}
