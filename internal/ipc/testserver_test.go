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
	"net"
	"sync"

	"github.com/valyala/bytebufferpool"

	"github.com/srediag/drm-plugin/api"
)

func testConn() (net.Conn, net.Conn) {
	return net.Pipe()
}

// lastDecrypt records the fields a fake service decoded from one
// decrypt request, for assertions.
type lastDecrypt struct {
	method   uint16
	secure   bool
	keyID    [16]byte
	iv       [16]byte
	mode     api.Mode
	pattern  api.Pattern
	nss      []api.SubSample
	source   api.SharedBufferRef
	offset   uint64
	dstType  api.BufferType
	dstRef   api.SharedBufferRef
	dstHandl uint64
}

// fakeService is a minimal in-process plugin service speaking the
// frame protocol, enough to exercise the client proxies.
type fakeService struct {
	mu sync.Mutex

	supported     map[api.UUID]bool
	proto         uint8
	createStatus  api.Status
	requireSecure bool
	decryptStatus api.Status
	decryptN      uint32
	detail        string
	drmStatus     api.Status
	logs          []api.LogMessage

	nextID    uint32
	heapRegs  map[uint32]api.HeapRegion
	sessions  [][]byte
	destroyed []uint32
	decrypts  []lastDecrypt
}

func newFakeService() *fakeService {
	return &fakeService{
		supported:     make(map[api.UUID]bool),
		proto:         ProtoVersion2,
		createStatus:  api.StatusOK,
		decryptStatus: api.StatusOK,
		drmStatus:     api.StatusOK,
		heapRegs:      make(map[uint32]api.HeapRegion),
	}
}

func (f *fakeService) serve(conn net.Conn) {
	for {
		req, err := readFrame(conn, 1<<20)
		if err != nil {
			return
		}
		reply := f.handle(req)
		out := bytebufferpool.Get()
		appendFrame(out, &frame{
			version: ProtoVersion2,
			ftype:   frameTypeReply,
			method:  req.method,
			callID:  req.callID,
			payload: reply,
		})
		_, err = conn.Write(out.B)
		bytebufferpool.Put(out)
		if err != nil {
			return
		}
	}
}

func (f *fakeService) handle(req *frame) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	r := newPayloadReader(req.payload)
	w := newPayloadWriter()
	defer w.release()

	switch req.method {
	case methodIsSchemeSupported:
		var uuid api.UUID
		copy(uuid[:], r.raw(16))
		w.bool(f.supported[uuid])

	case methodCreatePlugin:
		var uuid api.UUID
		copy(uuid[:], r.raw(16))
		_ = r.bytes() // initData
		w.u32(uint32(f.createStatus))
		f.nextID++
		w.u32(f.nextID)
		w.u8(f.proto)

	case methodRequiresSecureDecoder:
		_ = r.u32()
		_ = r.str()
		w.bool(f.requireSecure)

	case methodSetSharedBufferBase:
		_ = r.u32()
		region := api.HeapRegion{Name: r.str(), Size: r.u64()}
		bufferID := r.u32()
		if region.Name == "" && region.Size == 0 {
			delete(f.heapRegs, bufferID)
		} else {
			f.heapRegs[bufferID] = region
		}

	case methodDecrypt, methodDecryptV2:
		d := lastDecrypt{method: req.method}
		_ = r.u32()
		d.secure = r.bool()
		copy(d.keyID[:], r.raw(16))
		copy(d.iv[:], r.raw(16))
		d.mode = api.Mode(r.u32())
		d.pattern = api.Pattern{EncryptBlocks: r.u32(), SkipBlocks: r.u32()}
		n := int(r.u32())
		for i := 0; i < n; i++ {
			d.nss = append(d.nss, api.SubSample{ClearBytes: r.u32(), EncryptedBytes: r.u32()})
		}
		d.source = api.SharedBufferRef{BufferID: r.u32(), Offset: r.u64(), Size: r.u64()}
		d.offset = r.u64()
		d.dstType = api.BufferType(r.u32())
		if d.dstType == api.BufferTypeSharedMemory {
			d.dstRef = api.SharedBufferRef{BufferID: r.u32(), Offset: r.u64(), Size: r.u64()}
		} else {
			d.dstHandl = r.u64()
		}
		f.decrypts = append(f.decrypts, d)
		w.u32(uint32(f.decryptStatus))
		w.u32(f.decryptN)
		w.str(f.detail)

	case methodNotifyResolution:
		_ = r.u32()
		_ = r.u32()
		_ = r.u32()

	case methodSetMediaDrmSession:
		_ = r.u32()
		f.sessions = append(f.sessions, append([]byte(nil), r.bytes()...))
		w.u32(uint32(f.drmStatus))

	case methodDestroyPlugin:
		f.destroyed = append(f.destroyed, r.u32())

	case methodGetLogMessages:
		_ = r.u32()
		w.u32(uint32(len(f.logs)))
		for _, m := range f.logs {
			w.i64(m.TimeMs)
			w.u32(uint32(m.Priority))
			w.str(m.Message)
		}
	}
	return w.bytesCopy()
}
