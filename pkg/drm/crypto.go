// Package drm is the binding layer between an in-process media-crypto
// API and an out-of-process, versioned crypto plugin service. It
// discovers plugin factories, negotiates scheme support by UUID, and
// forwards session management and decrypt calls to one remote plugin
// handle, translating remote statuses to the local error set.
//
// The hard work (content decryption, key handling, secure buffers)
// happens in the remote service; this package only validates, marshals
// and translates.
package drm

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/srediag/drm-plugin/api"
	"github.com/srediag/drm-plugin/internal/logging"
)

var internalLogger = logging.New("drm", nil)

// Heap is the shared-memory heap surface the binding layer needs.
// pkg/shm.Heap satisfies it.
type Heap interface {
	Name() string
	Size() uint64
}

// CryptoHal forwards crypto-session calls to a remote plugin service.
//
// One mutex serializes all state access. The decrypt path snapshots
// the plugin handle and releases the lock before the remote round
// trip, so a slow decrypt never blocks heap or session bookkeeping.
type CryptoHal struct {
	mu sync.Mutex

	// factory set is fixed at construction
	factories []api.CryptoFactory

	plugin   api.CryptoPlugin
	pluginV2 api.CryptoPluginV2

	// nil once a plugin exists
	initErr error

	heapSeqNum int32
	heapSizes  map[int32]uint64
}

// NewCryptoHal builds a binding over an already-discovered factory
// set. An empty set yields an object whose InitCheck reports
// ErrUnsupported, matching a platform with no crypto services.
func NewCryptoHal(factories []api.CryptoFactory) *CryptoHal {
	initErr := ErrNotInitialized
	if len(factories) == 0 {
		initErr = ErrUnsupported
	}
	return &CryptoHal{
		factories: factories,
		initErr:   initErr,
		heapSizes: make(map[int32]uint64),
	}
}

// NewCryptoHalFromManager discovers factories through a service
// manager and builds the binding over them.
func NewCryptoHalFromManager(ctx context.Context, mgr api.ServiceManager) *CryptoHal {
	return NewCryptoHal(MakeCryptoFactories(ctx, mgr))
}

// InitCheck reports the object's lifecycle state: ErrUnsupported when
// no factories exist, ErrNotInitialized before CreatePlugin, nil once
// a plugin is live.
func (c *CryptoHal) InitCheck() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initErr
}

// IsCryptoSchemeSupported reports whether any factory can handle the
// scheme.
func (c *CryptoHal) IsCryptoSchemeSupported(uuid api.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range c.factories {
		if f.IsCryptoSchemeSupported(uuid) {
			return true
		}
	}
	return false
}

// CreatePlugin instantiates a remote plugin for the scheme. When the
// remote handle speaks the extended protocol revision the binding
// dispatches decrypts there from then on.
func (c *CryptoHal) CreatePlugin(ctx context.Context, uuid api.UUID, initData []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range c.factories {
		if !f.IsCryptoSchemeSupported(uuid) {
			continue
		}
		c.plugin = c.makeCryptoPlugin(ctx, f, uuid, initData)
		c.pluginV2 = nil
		if v2, ok := c.plugin.(api.CryptoPluginV2); ok {
			c.pluginV2 = v2
		}
	}

	if errors.Is(c.initErr, ErrNotInitialized) {
		if c.plugin == nil {
			c.initErr = ErrUnsupported
		} else {
			c.initErr = nil
		}
	}
	return c.initErr
}

// makeCryptoPlugin is called with c.mu held.
func (c *CryptoHal) makeCryptoPlugin(ctx context.Context, f api.CryptoFactory, uuid api.UUID, initData []byte) api.CryptoPlugin {
	plugin, status, err := f.CreatePlugin(ctx, uuid, initData)
	if err != nil {
		remoteFailures.Inc()
		c.initErr = ErrRemoteEndpointGone
		return nil
	}
	if status != api.StatusOK {
		internalLogger.Errorf("failed to make crypto plugin: %s", status)
		return nil
	}
	return plugin
}

// DestroyPlugin releases the remote handle and returns the object to
// the not-initialized state.
func (c *CryptoHal) DestroyPlugin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initErr != nil {
		return c.initErr
	}

	if c.plugin != nil {
		if err := c.plugin.Destroy(ctx); err != nil {
			internalLogger.Warnf("destroy plugin: %v", err)
		}
	}
	c.plugin = nil
	c.pluginV2 = nil
	c.initErr = ErrNotInitialized
	return nil
}

// RequiresSecureDecoderComponent queries the plugin. False when the
// object is not initialized or the remote call fails.
func (c *CryptoHal) RequiresSecureDecoderComponent(ctx context.Context, mime string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initErr != nil {
		return false
	}
	required, err := c.plugin.RequiresSecureDecoderComponent(ctx, mime)
	if err != nil {
		remoteFailures.Inc()
		return false
	}
	return required
}

// SetHeapBase registers a shared-memory heap with the remote plugin
// and returns its sequence number. The remote maps a region of the
// same name and size; later buffer refs carry only offsets into it.
func (c *CryptoHal) SetHeapBase(ctx context.Context, heap Heap) (int32, error) {
	if heap == nil {
		return -1, ErrBadValue
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.heapSeqNum < 0 {
		internalLogger.Errorf("setHeapBase: heap seqnum overflow (%d)", c.heapSeqNum)
		return -1, ErrBadValue
	}
	if c.initErr != nil {
		return -1, c.initErr
	}

	seqNum := c.heapSeqNum
	c.heapSeqNum++
	bufferID := uint32(seqNum)
	c.heapSizes[seqNum] = heap.Size()
	err := c.plugin.SetSharedBufferBase(ctx, api.HeapRegion{Name: heap.Name(), Size: heap.Size()}, bufferID)
	if err != nil {
		internalLogger.Errorf("setSharedBufferBase: remote call failed: %v", err)
		remoteFailures.Inc()
	}
	return seqNum, nil
}

// ClearHeapBase unregisters a heap. The remote mapping is cleared by
// forwarding a zero region under the same buffer ID.
func (c *CryptoHal) ClearHeapBase(ctx context.Context, seqNum int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.heapSizes[seqNum]; !ok {
		return
	}
	if c.plugin != nil {
		if err := c.plugin.SetSharedBufferBase(ctx, api.HeapRegion{}, uint32(seqNum)); err != nil {
			internalLogger.Errorf("setSharedBufferBase: remote call failed: %v", err)
			remoteFailures.Inc()
		}
	}
	delete(c.heapSizes, seqNum)
}

// checkSharedBuffer is called with c.mu held. The ref must point into
// a registered heap, with the offset+size sum overflow-guarded.
func (c *CryptoHal) checkSharedBuffer(ref api.SharedBufferRef) error {
	seqNum := int32(ref.BufferID)
	heapSize, ok := c.heapSizes[seqNum]
	if !ok {
		return ErrUnknown
	}
	if ref.Size > math.MaxUint64-ref.Offset || heapSize < ref.Offset+ref.Size {
		internalLogger.Warnf("shared buffer ref out of heap bounds: id=%d off=%d size=%d heap=%d",
			ref.BufferID, ref.Offset, ref.Size, heapSize)
		return ErrUnknown
	}
	return nil
}

// Decrypt forwards one decrypt operation. Buffer refs are validated
// against registered heaps before anything crosses the process
// boundary. Returns bytes written and, on success from an extended
// plugin, the remote's detail message.
func (c *CryptoHal) Decrypt(
	ctx context.Context,
	keyID, iv [16]byte,
	mode api.Mode,
	pattern api.Pattern,
	source api.SharedBufferRef,
	offset uint64,
	subSamples []api.SubSample,
	destination api.DestinationBuffer,
) (int, string, error) {
	c.mu.Lock()

	if c.initErr != nil {
		err := c.initErr
		c.mu.Unlock()
		return 0, "", err
	}

	switch mode {
	case api.ModeUnencrypted, api.ModeAESCTR, api.ModeAESCBC, api.ModeAESCBCCTS:
	default:
		c.mu.Unlock()
		return 0, "", ErrUnknown
	}

	var secure bool
	switch destination.Type {
	case api.BufferTypeSharedMemory:
		if err := c.checkSharedBuffer(destination.NonsecureRef); err != nil {
			c.mu.Unlock()
			return 0, "", err
		}
	case api.BufferTypeSecureHandle:
		secure = true
	default:
		c.mu.Unlock()
		return 0, "", ErrUnknown
	}

	if err := c.checkSharedBuffer(source); err != nil {
		c.mu.Unlock()
		return 0, "", err
	}

	plugin := c.plugin
	pluginV2 := c.pluginV2

	// Do not hold the lock across the remote round trip; the reply is
	// synchronous and the handle snapshot above stays valid for this
	// call even if the plugin is destroyed concurrently.
	c.mu.Unlock()

	args := api.DecryptArgs{
		Secure:      secure,
		KeyID:       keyID,
		IV:          iv,
		Mode:        mode,
		Pattern:     pattern,
		SubSamples:  subSamples,
		Source:      source,
		Offset:      offset,
		Destination: destination,
	}

	decryptCalls.WithLabelValues(mode.String()).Inc()

	var res api.DecryptResult
	var err error
	if pluginV2 != nil {
		res, err = pluginV2.DecryptV2(ctx, args)
	} else {
		res, err = plugin.Decrypt(ctx, args)
	}
	if err != nil {
		remoteFailures.Inc()
		return 0, "", ErrRemoteEndpointGone
	}
	if serr := StatusToError(res.Status); serr != nil {
		return 0, "", serr
	}
	decryptBytes.Add(float64(res.BytesWritten))
	return int(res.BytesWritten), res.Detail, nil
}

// NotifyResolution tells the plugin the output resolution changed.
// Fire and forget; failures are logged only.
func (c *CryptoHal) NotifyResolution(ctx context.Context, width, height uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initErr != nil {
		return
	}
	if err := c.plugin.NotifyResolution(ctx, width, height); err != nil {
		internalLogger.Errorf("notifyResolution call failed: %v", err)
		remoteFailures.Inc()
	}
}

// SetMediaDrmSession binds a DRM session to this crypto session.
func (c *CryptoHal) SetMediaDrmSession(ctx context.Context, sessionID []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initErr != nil {
		return c.initErr
	}
	status, err := c.plugin.SetMediaDrmSession(ctx, sessionID)
	if err != nil {
		remoteFailures.Inc()
		return ErrRemoteEndpointGone
	}
	return StatusToError(status)
}

// LogMessages retrieves diagnostic records from the plugin. Plugins
// negotiated at the original protocol revision do not carry logs.
func (c *CryptoHal) LogMessages(ctx context.Context) ([]api.LogMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.plugin == nil {
		return nil, ErrNotInitialized
	}
	lc, ok := c.plugin.(api.LogCapable)
	if !ok {
		return nil, ErrUnsupported
	}
	logs, err := lc.LogMessages(ctx)
	if err != nil {
		remoteFailures.Inc()
		return nil, ErrRemoteEndpointGone
	}
	return logs, nil
}
