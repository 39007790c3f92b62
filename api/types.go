// Package api defines the versioned crypto plugin service contract and
// the wire-shape types shared between the binding layer and a remote
// plugin service.
package api

// UUID identifies a DRM scheme (16 raw bytes, not a string form).
type UUID [16]byte

// Mode selects the block cipher mode for a decrypt operation.
type Mode uint32

const (
	ModeUnencrypted Mode = iota
	ModeAESCTR
	ModeAESCBC
	ModeAESCBCCTS
)

func (m Mode) String() string {
	switch m {
	case ModeUnencrypted:
		return "unencrypted"
	case ModeAESCTR:
		return "aes-ctr"
	case ModeAESCBC:
		return "aes-cbc"
	case ModeAESCBCCTS:
		return "aes-cbc-cts"
	default:
		return "unknown"
	}
}

// Pattern describes a cbcs-style encrypt/skip block pattern.
// A zero Pattern means full-sample encryption.
type Pattern struct {
	EncryptBlocks uint32
	SkipBlocks    uint32
}

// SubSample splits a sample into a clear prefix and an encrypted tail.
type SubSample struct {
	ClearBytes     uint32
	EncryptedBytes uint32
}

// SharedBufferRef points into a previously registered shared-memory
// heap. BufferID is the sequence number returned when the heap was
// registered; the buffer contents are never re-transmitted per call.
type SharedBufferRef struct {
	BufferID uint32
	Offset   uint64
	Size     uint64
}

// BufferType discriminates decrypt destinations.
type BufferType uint32

const (
	BufferTypeSharedMemory BufferType = iota
	BufferTypeSecureHandle
)

// DestinationBuffer is where decrypted output lands: either a region
// of a registered shared heap, or an opaque secure-output handle that
// never enters this process.
type DestinationBuffer struct {
	Type         BufferType
	NonsecureRef SharedBufferRef
	SecureHandle uint64
}

// HeapRegion describes a shared-memory heap to the remote side. The
// remote maps the region by name; Size bounds all later buffer refs.
// An empty Name with zero Size clears a previous registration.
type HeapRegion struct {
	Name string
	Size uint64
}

// LogPriority mirrors the remote log record priorities.
type LogPriority uint32

const (
	LogUnknown LogPriority = iota
	LogDefault
	LogVerbose
	LogDebug
	LogInfo
	LogWarning
	LogError
	LogFatal
)

// LogMessage is one diagnostic record retrieved from the plugin.
type LogMessage struct {
	TimeMs   int64
	Priority LogPriority
	Message  string
}
