/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ipc

import (
	"context"
	"fmt"

	"github.com/srediag/drm-plugin/api"
)

// ListByInterface asks a service-manager endpoint for the instance
// names registered under descriptor.
func ListByInterface(ctx context.Context, s *Session, descriptor string) ([]string, error) {
	w := newPayloadWriter()
	w.str(descriptor)
	payload := w.bytesCopy()
	w.release()

	reply, err := s.Call(ctx, methodListByInterface, payload)
	if err != nil {
		return nil, err
	}
	r := newPayloadReader(reply)
	// each name carries at least its 4-byte length prefix
	n := r.count(4)
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		names = append(names, r.str())
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

// FactoryClient is the client proxy for one registered crypto factory
// instance.
type FactoryClient struct {
	s        *Session
	instance string
}

// NewFactoryClient binds a proxy to the session of one instance.
func NewFactoryClient(s *Session, instance string) *FactoryClient {
	return &FactoryClient{s: s, instance: instance}
}

// Instance returns the instance name the proxy is bound to.
func (f *FactoryClient) Instance() string { return f.instance }

// Session exposes the underlying session for health wiring.
func (f *FactoryClient) Session() *Session { return f.s }

// IsCryptoSchemeSupported queries the remote factory. A transport
// failure reads as unsupported.
func (f *FactoryClient) IsCryptoSchemeSupported(uuid api.UUID) bool {
	w := newPayloadWriter()
	w.raw(uuid[:])
	payload := w.bytesCopy()
	w.release()

	reply, err := f.s.Call(context.Background(), methodIsSchemeSupported, payload)
	if err != nil {
		internalLogger.Warnf("isCryptoSchemeSupported(%s): %v", f.instance, err)
		return false
	}
	r := newPayloadReader(reply)
	supported := r.bool()
	if r.Err() != nil {
		return false
	}
	return supported
}

// CreatePlugin asks the factory for a plugin handle. The reply
// advertises the protocol revision the plugin speaks; revision 2
// handles additionally satisfy api.CryptoPluginV2 and api.LogCapable.
func (f *FactoryClient) CreatePlugin(ctx context.Context, uuid api.UUID, initData []byte) (api.CryptoPlugin, api.Status, error) {
	w := newPayloadWriter()
	w.raw(uuid[:])
	w.bytes(initData)
	payload := w.bytesCopy()
	w.release()

	reply, err := f.s.Call(ctx, methodCreatePlugin, payload)
	if err != nil {
		return nil, api.StatusUnknown, err
	}
	r := newPayloadReader(reply)
	status := api.Status(r.u32())
	pluginID := r.u32()
	proto := r.u8()
	if err := r.Err(); err != nil {
		return nil, api.StatusUnknown, err
	}
	if status != api.StatusOK {
		return nil, status, nil
	}
	base := pluginClient{s: f.s, id: pluginID}
	if proto >= ProtoVersion2 {
		return &pluginClientV2{pluginClient: base}, status, nil
	}
	return &base, status, nil
}

// pluginClient proxies one remote plugin handle at protocol revision 1.
type pluginClient struct {
	s  *Session
	id uint32
}

func (p *pluginClient) RequiresSecureDecoderComponent(ctx context.Context, mime string) (bool, error) {
	w := newPayloadWriter()
	w.u32(p.id)
	w.str(mime)
	payload := w.bytesCopy()
	w.release()

	reply, err := p.s.Call(ctx, methodRequiresSecureDecoder, payload)
	if err != nil {
		return false, err
	}
	r := newPayloadReader(reply)
	required := r.bool()
	return required, r.Err()
}

func (p *pluginClient) SetSharedBufferBase(ctx context.Context, heap api.HeapRegion, bufferID uint32) error {
	w := newPayloadWriter()
	w.u32(p.id)
	w.str(heap.Name)
	w.u64(heap.Size)
	w.u32(bufferID)
	payload := w.bytesCopy()
	w.release()

	_, err := p.s.Call(ctx, methodSetSharedBufferBase, payload)
	return err
}

func (p *pluginClient) Decrypt(ctx context.Context, args api.DecryptArgs) (api.DecryptResult, error) {
	return p.decrypt(ctx, methodDecrypt, args)
}

func (p *pluginClient) decrypt(ctx context.Context, method uint16, args api.DecryptArgs) (api.DecryptResult, error) {
	w := newPayloadWriter()
	w.u32(p.id)
	w.bool(args.Secure)
	w.raw(args.KeyID[:])
	w.raw(args.IV[:])
	w.u32(uint32(args.Mode))
	w.u32(args.Pattern.EncryptBlocks)
	w.u32(args.Pattern.SkipBlocks)
	w.u32(uint32(len(args.SubSamples)))
	for _, ss := range args.SubSamples {
		w.u32(ss.ClearBytes)
		w.u32(ss.EncryptedBytes)
	}
	w.u32(args.Source.BufferID)
	w.u64(args.Source.Offset)
	w.u64(args.Source.Size)
	w.u64(args.Offset)
	w.u32(uint32(args.Destination.Type))
	switch args.Destination.Type {
	case api.BufferTypeSharedMemory:
		w.u32(args.Destination.NonsecureRef.BufferID)
		w.u64(args.Destination.NonsecureRef.Offset)
		w.u64(args.Destination.NonsecureRef.Size)
	case api.BufferTypeSecureHandle:
		w.u64(args.Destination.SecureHandle)
	}
	payload := w.bytesCopy()
	w.release()

	reply, err := p.s.Call(ctx, method, payload)
	if err != nil {
		return api.DecryptResult{}, err
	}
	r := newPayloadReader(reply)
	res := api.DecryptResult{
		Status:       api.Status(r.u32()),
		BytesWritten: r.u32(),
		Detail:       r.str(),
	}
	if err := r.Err(); err != nil {
		return api.DecryptResult{}, err
	}
	return res, nil
}

func (p *pluginClient) NotifyResolution(ctx context.Context, width, height uint32) error {
	w := newPayloadWriter()
	w.u32(p.id)
	w.u32(width)
	w.u32(height)
	payload := w.bytesCopy()
	w.release()

	_, err := p.s.Call(ctx, methodNotifyResolution, payload)
	return err
}

func (p *pluginClient) SetMediaDrmSession(ctx context.Context, sessionID []byte) (api.Status, error) {
	w := newPayloadWriter()
	w.u32(p.id)
	w.bytes(sessionID)
	payload := w.bytesCopy()
	w.release()

	reply, err := p.s.Call(ctx, methodSetMediaDrmSession, payload)
	if err != nil {
		return api.StatusUnknown, err
	}
	r := newPayloadReader(reply)
	status := api.Status(r.u32())
	return status, r.Err()
}

func (p *pluginClient) Destroy(ctx context.Context) error {
	w := newPayloadWriter()
	w.u32(p.id)
	payload := w.bytesCopy()
	w.release()

	_, err := p.s.Call(ctx, methodDestroyPlugin, payload)
	return err
}

// pluginClientV2 adds the extended decrypt and diagnostic logs.
type pluginClientV2 struct {
	pluginClient
}

func (p *pluginClientV2) DecryptV2(ctx context.Context, args api.DecryptArgs) (api.DecryptResult, error) {
	return p.decrypt(ctx, methodDecryptV2, args)
}

func (p *pluginClientV2) LogMessages(ctx context.Context) ([]api.LogMessage, error) {
	w := newPayloadWriter()
	w.u32(p.id)
	payload := w.bytesCopy()
	w.release()

	reply, err := p.s.Call(ctx, methodGetLogMessages, payload)
	if err != nil {
		return nil, err
	}
	r := newPayloadReader(reply)
	// each record is at least time (8) + priority (4) + message len (4)
	n := r.count(16)
	logs := make([]api.LogMessage, 0, n)
	for i := 0; i < n; i++ {
		logs = append(logs, api.LogMessage{
			TimeMs:   r.i64(),
			Priority: api.LogPriority(r.u32()),
			Message:  r.str(),
		})
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("ipc: malformed log reply: %w", err)
	}
	return logs, nil
}

var (
	_ api.CryptoFactory  = (*FactoryClient)(nil)
	_ api.CryptoPlugin   = (*pluginClient)(nil)
	_ api.CryptoPluginV2 = (*pluginClientV2)(nil)
	_ api.LogCapable     = (*pluginClientV2)(nil)
)
