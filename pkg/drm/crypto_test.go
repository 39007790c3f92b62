package drm

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srediag/drm-plugin/api"
)

var testUUID = api.UUID{0xed, 0xef, 0x8b, 0xa9, 0x79, 0xd6, 0x4a, 0xce, 0xa3, 0xc8, 0x27, 0xdc, 0xd5, 0x1d, 0x21, 0xed}

type testHeap struct {
	name string
	size uint64
}

func (h *testHeap) Name() string { return h.name }
func (h *testHeap) Size() uint64 { return h.size }

type fakeFactory struct {
	supported map[api.UUID]bool
	plugin    api.CryptoPlugin
	status    api.Status
	err       error
}

func (f *fakeFactory) IsCryptoSchemeSupported(uuid api.UUID) bool {
	return f.supported[uuid]
}

func (f *fakeFactory) CreatePlugin(ctx context.Context, uuid api.UUID, initData []byte) (api.CryptoPlugin, api.Status, error) {
	if f.err != nil {
		return nil, api.StatusUnknown, f.err
	}
	if f.status != api.StatusOK {
		return nil, f.status, nil
	}
	return f.plugin, api.StatusOK, nil
}

type fakePlugin struct {
	requiresSecure bool
	callErr        error

	heapRegs   map[uint32]api.HeapRegion
	baseCalls  int
	lastArgs   api.DecryptArgs
	decryptRes api.DecryptResult
	drmStatus  api.Status
	sessionID  []byte
	width      uint32
	height     uint32
	destroyed  bool
}

func newFakePlugin() *fakePlugin {
	return &fakePlugin{
		heapRegs:   make(map[uint32]api.HeapRegion),
		decryptRes: api.DecryptResult{Status: api.StatusOK},
		drmStatus:  api.StatusOK,
	}
}

func (p *fakePlugin) RequiresSecureDecoderComponent(ctx context.Context, mime string) (bool, error) {
	if p.callErr != nil {
		return false, p.callErr
	}
	return p.requiresSecure, nil
}

func (p *fakePlugin) SetSharedBufferBase(ctx context.Context, heap api.HeapRegion, bufferID uint32) error {
	p.baseCalls++
	if p.callErr != nil {
		return p.callErr
	}
	p.heapRegs[bufferID] = heap
	return nil
}

func (p *fakePlugin) Decrypt(ctx context.Context, args api.DecryptArgs) (api.DecryptResult, error) {
	p.lastArgs = args
	if p.callErr != nil {
		return api.DecryptResult{}, p.callErr
	}
	return p.decryptRes, nil
}

func (p *fakePlugin) NotifyResolution(ctx context.Context, width, height uint32) error {
	if p.callErr != nil {
		return p.callErr
	}
	p.width, p.height = width, height
	return nil
}

func (p *fakePlugin) SetMediaDrmSession(ctx context.Context, sessionID []byte) (api.Status, error) {
	if p.callErr != nil {
		return api.StatusUnknown, p.callErr
	}
	p.sessionID = append([]byte(nil), sessionID...)
	return p.drmStatus, nil
}

func (p *fakePlugin) Destroy(ctx context.Context) error {
	p.destroyed = true
	return nil
}

type fakePluginV2 struct {
	*fakePlugin
	v2Called bool
	logs     []api.LogMessage
	logsErr  error
}

func (p *fakePluginV2) DecryptV2(ctx context.Context, args api.DecryptArgs) (api.DecryptResult, error) {
	p.v2Called = true
	return p.fakePlugin.Decrypt(ctx, args)
}

func (p *fakePluginV2) LogMessages(ctx context.Context) ([]api.LogMessage, error) {
	if p.logsErr != nil {
		return nil, p.logsErr
	}
	return p.logs, nil
}

func supportingFactory(plugin api.CryptoPlugin) *fakeFactory {
	return &fakeFactory{
		supported: map[api.UUID]bool{testUUID: true},
		plugin:    plugin,
		status:    api.StatusOK,
	}
}

func newTestHal(t *testing.T, plugin api.CryptoPlugin) *CryptoHal {
	t.Helper()
	hal := NewCryptoHal([]api.CryptoFactory{supportingFactory(plugin)})
	if err := hal.CreatePlugin(context.Background(), testUUID, nil); err != nil {
		t.Fatalf("CreatePlugin failed: %v", err)
	}
	return hal
}

func registerHeap(t *testing.T, hal *CryptoHal, size uint64) int32 {
	t.Helper()
	seq, err := hal.SetHeapBase(context.Background(), &testHeap{name: "heap", size: size})
	if err != nil {
		t.Fatalf("SetHeapBase failed: %v", err)
	}
	return seq
}

func TestInitCheckNoFactories(t *testing.T) {
	hal := NewCryptoHal(nil)
	assert.ErrorIs(t, hal.InitCheck(), ErrUnsupported)
	// stays unsupported; CreatePlugin cannot rescue it
	assert.ErrorIs(t, hal.CreatePlugin(context.Background(), testUUID, nil), ErrUnsupported)
}

func TestPluginLifecycle(t *testing.T) {
	plugin := newFakePlugin()
	hal := NewCryptoHal([]api.CryptoFactory{supportingFactory(plugin)})

	assert.ErrorIs(t, hal.InitCheck(), ErrNotInitialized)
	assert.NoError(t, hal.CreatePlugin(context.Background(), testUUID, []byte("init")))
	assert.NoError(t, hal.InitCheck())

	assert.NoError(t, hal.DestroyPlugin(context.Background()))
	assert.True(t, plugin.destroyed)
	assert.ErrorIs(t, hal.InitCheck(), ErrNotInitialized)
	// destroying twice reports the current state
	assert.ErrorIs(t, hal.DestroyPlugin(context.Background()), ErrNotInitialized)
}

func TestCreatePluginUnsupportedScheme(t *testing.T) {
	factory := &fakeFactory{supported: map[api.UUID]bool{}}
	hal := NewCryptoHal([]api.CryptoFactory{factory})
	assert.ErrorIs(t, hal.CreatePlugin(context.Background(), testUUID, nil), ErrUnsupported)
	assert.ErrorIs(t, hal.InitCheck(), ErrUnsupported)
}

func TestCreatePluginTransportFailure(t *testing.T) {
	factory := supportingFactory(nil)
	factory.err = errors.New("endpoint went away")
	hal := NewCryptoHal([]api.CryptoFactory{factory})

	assert.ErrorIs(t, hal.CreatePlugin(context.Background(), testUUID, nil), ErrRemoteEndpointGone)
	assert.ErrorIs(t, hal.InitCheck(), ErrRemoteEndpointGone)
}

func TestCreatePluginRemoteStatusFailure(t *testing.T) {
	factory := supportingFactory(nil)
	factory.status = api.StatusCannotHandle
	hal := NewCryptoHal([]api.CryptoFactory{factory})

	assert.ErrorIs(t, hal.CreatePlugin(context.Background(), testUUID, nil), ErrUnsupported)
}

func TestCreatePluginNegotiatesV2(t *testing.T) {
	v2 := &fakePluginV2{fakePlugin: newFakePlugin()}
	hal := newTestHal(t, v2)
	seq := registerHeap(t, hal, 4096)

	_, _, err := hal.Decrypt(context.Background(), [16]byte{}, [16]byte{},
		api.ModeAESCTR, api.Pattern{},
		api.SharedBufferRef{BufferID: uint32(seq), Size: 4096}, 0, nil,
		api.DestinationBuffer{Type: api.BufferTypeSharedMemory,
			NonsecureRef: api.SharedBufferRef{BufferID: uint32(seq), Size: 4096}})
	assert.NoError(t, err)
	assert.True(t, v2.v2Called)
}

func TestIsCryptoSchemeSupported(t *testing.T) {
	other := api.UUID{1}
	f1 := &fakeFactory{supported: map[api.UUID]bool{}}
	f2 := &fakeFactory{supported: map[api.UUID]bool{other: true}}
	hal := NewCryptoHal([]api.CryptoFactory{f1, f2})

	assert.True(t, hal.IsCryptoSchemeSupported(other))
	assert.False(t, hal.IsCryptoSchemeSupported(testUUID))
}

func TestSetHeapBaseBeforeCreate(t *testing.T) {
	hal := NewCryptoHal([]api.CryptoFactory{supportingFactory(newFakePlugin())})
	seq, err := hal.SetHeapBase(context.Background(), &testHeap{name: "h", size: 64})
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, int32(-1), seq)
}

func TestSetHeapBaseNilHeap(t *testing.T) {
	hal := newTestHal(t, newFakePlugin())
	seq, err := hal.SetHeapBase(context.Background(), nil)
	assert.ErrorIs(t, err, ErrBadValue)
	assert.Equal(t, int32(-1), seq)
}

func TestHeapRegistrationAndClear(t *testing.T) {
	plugin := newFakePlugin()
	hal := newTestHal(t, plugin)

	seq0, err := hal.SetHeapBase(context.Background(), &testHeap{name: "h0", size: 1 << 16})
	assert.NoError(t, err)
	assert.Equal(t, int32(0), seq0)
	seq1, err := hal.SetHeapBase(context.Background(), &testHeap{name: "h1", size: 1 << 20})
	assert.NoError(t, err)
	assert.Equal(t, int32(1), seq1)

	assert.Equal(t, api.HeapRegion{Name: "h0", Size: 1 << 16}, plugin.heapRegs[0])
	assert.Equal(t, api.HeapRegion{Name: "h1", Size: 1 << 20}, plugin.heapRegs[1])

	// clearing forwards a zero region under the same buffer ID
	hal.ClearHeapBase(context.Background(), seq0)
	assert.Equal(t, api.HeapRegion{}, plugin.heapRegs[0])

	// unknown sequence numbers are a no-op, no remote call
	calls := plugin.baseCalls
	hal.ClearHeapBase(context.Background(), 99)
	assert.Equal(t, calls, plugin.baseCalls)
}

func TestClearHeapBaseAfterDestroy(t *testing.T) {
	hal := newTestHal(t, newFakePlugin())
	seq := registerHeap(t, hal, 4096)
	assert.NoError(t, hal.DestroyPlugin(context.Background()))
	// plugin handle is gone, local bookkeeping still drains
	hal.ClearHeapBase(context.Background(), seq)
}

func decryptArgsDst(seq int32, srcSize, dstOff, dstSize uint64) (api.SharedBufferRef, api.DestinationBuffer) {
	src := api.SharedBufferRef{BufferID: uint32(seq), Offset: 0, Size: srcSize}
	dst := api.DestinationBuffer{
		Type:         api.BufferTypeSharedMemory,
		NonsecureRef: api.SharedBufferRef{BufferID: uint32(seq), Offset: dstOff, Size: dstSize},
	}
	return src, dst
}

func TestDecryptNotInitialized(t *testing.T) {
	hal := NewCryptoHal([]api.CryptoFactory{supportingFactory(newFakePlugin())})
	_, _, err := hal.Decrypt(context.Background(), [16]byte{}, [16]byte{},
		api.ModeAESCTR, api.Pattern{}, api.SharedBufferRef{}, 0, nil,
		api.DestinationBuffer{Type: api.BufferTypeSharedMemory})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestDecryptInvalidMode(t *testing.T) {
	hal := newTestHal(t, newFakePlugin())
	seq := registerHeap(t, hal, 4096)
	src, dst := decryptArgsDst(seq, 4096, 0, 4096)

	_, _, err := hal.Decrypt(context.Background(), [16]byte{}, [16]byte{},
		api.Mode(99), api.Pattern{}, src, 0, nil, dst)
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestDecryptUnregisteredSourceHeap(t *testing.T) {
	plugin := newFakePlugin()
	hal := newTestHal(t, plugin)
	seq := registerHeap(t, hal, 4096)
	_, dst := decryptArgsDst(seq, 0, 0, 4096)
	src := api.SharedBufferRef{BufferID: 7, Size: 16}

	_, _, err := hal.Decrypt(context.Background(), [16]byte{}, [16]byte{},
		api.ModeAESCTR, api.Pattern{}, src, 0, nil, dst)
	assert.ErrorIs(t, err, ErrUnknown)
	// the call never crossed the boundary
	assert.Equal(t, api.DecryptArgs{}, plugin.lastArgs)
}

func TestDecryptBufferBounds(t *testing.T) {
	plugin := newFakePlugin()
	hal := newTestHal(t, plugin)
	seq := registerHeap(t, hal, 4096)

	// destination past the end of the heap
	src, dst := decryptArgsDst(seq, 128, 4000, 128)
	_, _, err := hal.Decrypt(context.Background(), [16]byte{}, [16]byte{},
		api.ModeAESCTR, api.Pattern{}, src, 0, nil, dst)
	assert.ErrorIs(t, err, ErrUnknown)

	// offset+size overflow must not wrap into range
	src = api.SharedBufferRef{BufferID: uint32(seq), Offset: math.MaxUint64, Size: 2}
	_, dst = decryptArgsDst(seq, 0, 0, 128)
	_, _, err = hal.Decrypt(context.Background(), [16]byte{}, [16]byte{},
		api.ModeAESCTR, api.Pattern{}, src, 0, nil, dst)
	assert.ErrorIs(t, err, ErrUnknown)

	// exactly at the boundary is fine
	src, dst = decryptArgsDst(seq, 4096, 2048, 2048)
	_, _, err = hal.Decrypt(context.Background(), [16]byte{}, [16]byte{},
		api.ModeAESCTR, api.Pattern{}, src, 0, nil, dst)
	assert.NoError(t, err)
}

func TestDecryptSecureDestinationSkipsDestCheck(t *testing.T) {
	plugin := newFakePlugin()
	plugin.decryptRes = api.DecryptResult{Status: api.StatusOK, BytesWritten: 512}
	hal := newTestHal(t, plugin)
	seq := registerHeap(t, hal, 4096)

	n, _, err := hal.Decrypt(context.Background(), [16]byte{}, [16]byte{},
		api.ModeAESCBCCTS, api.Pattern{},
		api.SharedBufferRef{BufferID: uint32(seq), Size: 512}, 0, nil,
		api.DestinationBuffer{Type: api.BufferTypeSecureHandle, SecureHandle: 1})
	assert.NoError(t, err)
	assert.Equal(t, 512, n)
	assert.True(t, plugin.lastArgs.Secure)
}

func TestDecryptUnknownDestinationType(t *testing.T) {
	hal := newTestHal(t, newFakePlugin())
	seq := registerHeap(t, hal, 4096)

	_, _, err := hal.Decrypt(context.Background(), [16]byte{}, [16]byte{},
		api.ModeAESCTR, api.Pattern{},
		api.SharedBufferRef{BufferID: uint32(seq), Size: 16}, 0, nil,
		api.DestinationBuffer{Type: api.BufferType(9)})
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestDecryptForwardsArguments(t *testing.T) {
	plugin := newFakePlugin()
	plugin.decryptRes = api.DecryptResult{Status: api.StatusOK, BytesWritten: 100, Detail: "fine"}
	hal := newTestHal(t, plugin)
	seq := registerHeap(t, hal, 4096)

	keyID := [16]byte{0xAA}
	iv := [16]byte{0xBB}
	pattern := api.Pattern{EncryptBlocks: 1, SkipBlocks: 9}
	subSamples := []api.SubSample{{ClearBytes: 16, EncryptedBytes: 84}}
	src, dst := decryptArgsDst(seq, 100, 0, 100)

	n, detail, err := hal.Decrypt(context.Background(), keyID, iv,
		api.ModeAESCBC, pattern, src, 7, subSamples, dst)
	assert.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, "fine", detail)

	assert.Equal(t, keyID, plugin.lastArgs.KeyID)
	assert.Equal(t, iv, plugin.lastArgs.IV)
	assert.Equal(t, api.ModeAESCBC, plugin.lastArgs.Mode)
	assert.Equal(t, pattern, plugin.lastArgs.Pattern)
	assert.Equal(t, subSamples, plugin.lastArgs.SubSamples)
	assert.Equal(t, uint64(7), plugin.lastArgs.Offset)
	assert.False(t, plugin.lastArgs.Secure)
}

func TestDecryptRemoteStatusTranslated(t *testing.T) {
	plugin := newFakePlugin()
	plugin.decryptRes = api.DecryptResult{Status: api.StatusNoLicense}
	hal := newTestHal(t, plugin)
	seq := registerHeap(t, hal, 4096)
	src, dst := decryptArgsDst(seq, 64, 0, 64)

	n, _, err := hal.Decrypt(context.Background(), [16]byte{}, [16]byte{},
		api.ModeAESCTR, api.Pattern{}, src, 0, nil, dst)
	assert.ErrorIs(t, err, ErrNoLicense)
	assert.Equal(t, 0, n)
}

func TestDecryptTransportFailure(t *testing.T) {
	plugin := newFakePlugin()
	plugin.callErr = errors.New("pipe broke")
	hal := newTestHal(t, plugin)
	seq := registerHeap(t, hal, 4096)
	src, dst := decryptArgsDst(seq, 64, 0, 64)

	_, _, err := hal.Decrypt(context.Background(), [16]byte{}, [16]byte{},
		api.ModeAESCTR, api.Pattern{}, src, 0, nil, dst)
	assert.ErrorIs(t, err, ErrRemoteEndpointGone)
	// a dead envelope is terminal for that call only
	assert.NoError(t, hal.InitCheck())
}

func TestRequiresSecureDecoderComponent(t *testing.T) {
	plugin := newFakePlugin()
	hal := NewCryptoHal([]api.CryptoFactory{supportingFactory(plugin)})

	// not initialized reads as not required
	assert.False(t, hal.RequiresSecureDecoderComponent(context.Background(), "video/avc"))

	if err := hal.CreatePlugin(context.Background(), testUUID, nil); err != nil {
		t.Fatalf("CreatePlugin failed: %v", err)
	}
	plugin.requiresSecure = true
	assert.True(t, hal.RequiresSecureDecoderComponent(context.Background(), "video/avc"))

	plugin.callErr = errors.New("gone")
	assert.False(t, hal.RequiresSecureDecoderComponent(context.Background(), "video/avc"))
}

func TestNotifyResolution(t *testing.T) {
	plugin := newFakePlugin()
	hal := NewCryptoHal([]api.CryptoFactory{supportingFactory(plugin)})

	hal.NotifyResolution(context.Background(), 1920, 1080)
	assert.Equal(t, uint32(0), plugin.width)

	if err := hal.CreatePlugin(context.Background(), testUUID, nil); err != nil {
		t.Fatalf("CreatePlugin failed: %v", err)
	}
	hal.NotifyResolution(context.Background(), 1920, 1080)
	assert.Equal(t, uint32(1920), plugin.width)
	assert.Equal(t, uint32(1080), plugin.height)
}

func TestSetMediaDrmSession(t *testing.T) {
	plugin := newFakePlugin()
	hal := NewCryptoHal([]api.CryptoFactory{supportingFactory(plugin)})

	assert.ErrorIs(t, hal.SetMediaDrmSession(context.Background(), []byte{1}), ErrNotInitialized)

	if err := hal.CreatePlugin(context.Background(), testUUID, nil); err != nil {
		t.Fatalf("CreatePlugin failed: %v", err)
	}
	assert.NoError(t, hal.SetMediaDrmSession(context.Background(), []byte{1, 2}))
	assert.Equal(t, []byte{1, 2}, plugin.sessionID)

	plugin.drmStatus = api.StatusSessionNotOpened
	assert.ErrorIs(t, hal.SetMediaDrmSession(context.Background(), []byte{3}), ErrSessionNotOpened)

	plugin.callErr = errors.New("gone")
	assert.ErrorIs(t, hal.SetMediaDrmSession(context.Background(), []byte{4}), ErrRemoteEndpointGone)
}

func TestLogMessages(t *testing.T) {
	hal := NewCryptoHal([]api.CryptoFactory{supportingFactory(newFakePlugin())})
	_, err := hal.LogMessages(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)

	// plugin at the original revision has no log surface
	if err := hal.CreatePlugin(context.Background(), testUUID, nil); err != nil {
		t.Fatalf("CreatePlugin failed: %v", err)
	}
	_, err = hal.LogMessages(context.Background())
	assert.ErrorIs(t, err, ErrUnsupported)

	v2 := &fakePluginV2{
		fakePlugin: newFakePlugin(),
		logs:       []api.LogMessage{{TimeMs: 1, Priority: api.LogWarning, Message: "m"}},
	}
	hal = newTestHal(t, v2)
	logs, err := hal.LogMessages(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, v2.logs, logs)

	v2.logsErr = errors.New("gone")
	_, err = hal.LogMessages(context.Background())
	assert.ErrorIs(t, err, ErrRemoteEndpointGone)
}
