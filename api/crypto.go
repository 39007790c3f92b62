package api

import "context"

// Interface descriptors used for factory discovery. Two protocol
// revisions register under distinct descriptors; both produce
// factories compatible with CryptoFactory.
const (
	CryptoFactoryDescriptorV1_0 = "drm.crypto.factory@1.0"
	CryptoFactoryDescriptorV1_1 = "drm.crypto.factory@1.1"

	// DefaultInstance is the passthrough instance name used when no
	// instance is registered with the service manager.
	DefaultInstance = "default"
)

// CryptoFactory instantiates scheme-specific crypto plugins.
type CryptoFactory interface {
	// IsCryptoSchemeSupported reports whether the factory can build a
	// plugin for the scheme.
	IsCryptoSchemeSupported(uuid UUID) bool

	// CreatePlugin builds a plugin for the scheme. initData is opaque
	// scheme-specific initialization data.
	CreatePlugin(ctx context.Context, uuid UUID, initData []byte) (CryptoPlugin, Status, error)
}

// CryptoPlugin is the original plugin interface. The error return
// reports transport-envelope failures (endpoint gone); logical
// failures come back as a non-OK Status.
type CryptoPlugin interface {
	RequiresSecureDecoderComponent(ctx context.Context, mime string) (bool, error)

	// SetSharedBufferBase registers heap under bufferID on the remote
	// side, or clears the registration when heap is the zero value.
	SetSharedBufferBase(ctx context.Context, heap HeapRegion, bufferID uint32) error

	Decrypt(ctx context.Context, args DecryptArgs) (DecryptResult, error)

	NotifyResolution(ctx context.Context, width, height uint32) error

	SetMediaDrmSession(ctx context.Context, sessionID []byte) (Status, error)

	Destroy(ctx context.Context) error
}

// CryptoPluginV2 is the extended plugin interface. Plugins negotiated
// at the newer protocol revision additionally implement it; callers
// probe with a type assertion.
type CryptoPluginV2 interface {
	CryptoPlugin

	// DecryptV2 returns the extended status set and a detailed error
	// message alongside the byte count.
	DecryptV2(ctx context.Context, args DecryptArgs) (DecryptResult, error)
}

// LogCapable is implemented by plugins that expose diagnostic logs.
type LogCapable interface {
	LogMessages(ctx context.Context) ([]LogMessage, error)
}

// DecryptArgs carries one decrypt operation across the boundary.
type DecryptArgs struct {
	Secure      bool
	KeyID       [16]byte
	IV          [16]byte
	Mode        Mode
	Pattern     Pattern
	SubSamples  []SubSample
	Source      SharedBufferRef
	Offset      uint64
	Destination DestinationBuffer
}

// DecryptResult is the remote's reply to a decrypt.
type DecryptResult struct {
	Status       Status
	BytesWritten uint32
	Detail       string
}

// ServiceManager lists and resolves registered plugin service
// instances. It stands in for the platform's service directory.
type ServiceManager interface {
	// ListByInterface returns the instance names registered for an
	// interface descriptor.
	ListByInterface(ctx context.Context, descriptor string) ([]string, error)

	// GetFactory resolves one instance to a live factory handle.
	GetFactory(ctx context.Context, descriptor, instance string) (CryptoFactory, error)
}
