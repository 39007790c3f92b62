package drm

import (
	"errors"

	"github.com/srediag/drm-plugin/api"
)

// Local error set. Remote status enumerations and transport failures
// translate onto these; callers compare with errors.Is.
var (
	// ErrNotInitialized means no plugin has been created yet.
	ErrNotInitialized = errors.New("drm: not initialized")

	// ErrUnsupported covers an unsupported scheme and operations the
	// negotiated plugin revision cannot perform.
	ErrUnsupported = errors.New("drm: not supported")

	// ErrRemoteEndpointGone means the call envelope itself failed, as
	// opposed to the logical operation. Terminal for that call only.
	ErrRemoteEndpointGone = errors.New("drm: remote endpoint gone")

	ErrNoLicense                    = errors.New("drm: no license")
	ErrLicenseExpired               = errors.New("drm: license expired")
	ErrSessionNotOpened             = errors.New("drm: session not opened")
	ErrCannotHandle                 = errors.New("drm: cannot handle operation")
	ErrInvalidState                 = errors.New("drm: invalid state")
	ErrBadValue                     = errors.New("drm: bad parameter value")
	ErrNotProvisioned               = errors.New("drm: device not provisioned")
	ErrResourceBusy                 = errors.New("drm: resource busy")
	ErrInsufficientOutputProtection = errors.New("drm: insufficient output protection")
	ErrDeviceRevoked                = errors.New("drm: device revoked")
	ErrDecrypt                      = errors.New("drm: decrypt failed")
	ErrFrameTooLarge                = errors.New("drm: frame too large")
	ErrInsufficientSecurity         = errors.New("drm: insufficient security level")
	ErrSessionLostState             = errors.New("drm: session lost state")

	ErrUnknown = errors.New("drm: unknown failure")
)

// StatusToError maps a remote status onto the local error set. An OK
// status maps to nil.
func StatusToError(s api.Status) error {
	switch s {
	case api.StatusOK:
		return nil
	case api.StatusNoLicense:
		return ErrNoLicense
	case api.StatusLicenseExpired:
		return ErrLicenseExpired
	case api.StatusSessionNotOpened:
		return ErrSessionNotOpened
	case api.StatusCannotHandle:
		return ErrCannotHandle
	case api.StatusInvalidState:
		return ErrInvalidState
	case api.StatusBadValue:
		return ErrBadValue
	case api.StatusNotProvisioned:
		return ErrNotProvisioned
	case api.StatusResourceBusy:
		return ErrResourceBusy
	case api.StatusInsufficientOutputProtection:
		return ErrInsufficientOutputProtection
	case api.StatusDeviceRevoked:
		return ErrDeviceRevoked
	case api.StatusDecryptError:
		return ErrDecrypt
	case api.StatusFrameTooLarge:
		return ErrFrameTooLarge
	case api.StatusInsufficientSecurity:
		return ErrInsufficientSecurity
	case api.StatusSessionLostState:
		return ErrSessionLostState
	default:
		return ErrUnknown
	}
}
