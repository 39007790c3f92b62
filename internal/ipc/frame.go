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
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"
)

const (
	frameMagic uint16 = 0x4450

	// ProtoVersion1 is the original plugin protocol revision.
	ProtoVersion1 uint8 = 1
	// ProtoVersion2 adds the extended decrypt and log retrieval.
	ProtoVersion2 uint8 = 2

	frameTypeRequest uint8 = 0
	frameTypeReply   uint8 = 1
	frameTypeEvent   uint8 = 2

	//header layout: magic 2 byte | version 1 byte | type 1 byte | method 2 byte | reserved 2 byte | callID 4 byte | length 4 byte
	headerSize        = 16
	headerMagicOffset = 0
	headerVerOffset   = 2
	headerTypeOffset  = 3
	headerMethOffset  = 4
	headerCallOffset  = 8
	headerLenOffset   = 12

	minFrameSize = headerSize
)

// Method identifiers. The manager socket answers only
// methodListByInterface; instance sockets answer the rest.
const (
	methodListByInterface uint16 = iota + 1
	methodIsSchemeSupported
	methodCreatePlugin
	methodRequiresSecureDecoder
	methodSetSharedBufferBase
	methodDecrypt
	methodDecryptV2
	methodNotifyResolution
	methodSetMediaDrmSession
	methodDestroyPlugin
	methodGetLogMessages
)

var (
	errBadMagic       = errors.New("ipc: bad frame magic")
	errShortPayload   = errors.New("ipc: truncated payload")
	ErrFrameTooLarge  = errors.New("ipc: frame exceeds MaxFrameSize")
	ErrBadFrameType   = errors.New("ipc: unknown frame type")
	errUnknownVersion = errors.New("ipc: unknown protocol version")
)

type frame struct {
	version uint8
	ftype   uint8
	method  uint16
	callID  uint32
	payload []byte
}

// appendFrame serializes f into buf. The scratch buffer comes from
// bytebufferpool so encode allocations amortize away.
func appendFrame(buf *bytebufferpool.ByteBuffer, f *frame) {
	var hdr [headerSize]byte
	binary.BigEndian.PutUint16(hdr[headerMagicOffset:], frameMagic)
	hdr[headerVerOffset] = f.version
	hdr[headerTypeOffset] = f.ftype
	binary.BigEndian.PutUint16(hdr[headerMethOffset:], f.method)
	binary.BigEndian.PutUint32(hdr[headerCallOffset:], f.callID)
	binary.BigEndian.PutUint32(hdr[headerLenOffset:], uint32(len(f.payload)))
	_, _ = buf.Write(hdr[:])
	_, _ = buf.Write(f.payload)
}

// readFrame reads one frame off r, enforcing maxPayload.
func readFrame(r io.Reader, maxPayload uint32) (*frame, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if binary.BigEndian.Uint16(hdr[headerMagicOffset:]) != frameMagic {
		return nil, errBadMagic
	}
	f := &frame{
		version: hdr[headerVerOffset],
		ftype:   hdr[headerTypeOffset],
		method:  binary.BigEndian.Uint16(hdr[headerMethOffset:]),
		callID:  binary.BigEndian.Uint32(hdr[headerCallOffset:]),
	}
	if f.version != ProtoVersion1 && f.version != ProtoVersion2 {
		return nil, errUnknownVersion
	}
	if f.ftype > frameTypeEvent {
		return nil, ErrBadFrameType
	}
	length := binary.BigEndian.Uint32(hdr[headerLenOffset:])
	if length > maxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	if length > 0 {
		f.payload = make([]byte, length)
		if _, err := io.ReadFull(r, f.payload); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// payloadWriter appends length-prefixed fields to a pooled buffer.
type payloadWriter struct {
	buf *bytebufferpool.ByteBuffer
}

func newPayloadWriter() payloadWriter {
	return payloadWriter{buf: bytebufferpool.Get()}
}

func (w payloadWriter) release() {
	bytebufferpool.Put(w.buf)
}

func (w payloadWriter) u8(v uint8) {
	_ = w.buf.WriteByte(v)
}

func (w payloadWriter) bool(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w payloadWriter) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, _ = w.buf.Write(b[:])
}

func (w payloadWriter) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, _ = w.buf.Write(b[:])
}

func (w payloadWriter) i64(v int64) {
	w.u64(uint64(v))
}

func (w payloadWriter) raw(p []byte) {
	_, _ = w.buf.Write(p)
}

func (w payloadWriter) bytes(p []byte) {
	w.u32(uint32(len(p)))
	_, _ = w.buf.Write(p)
}

func (w payloadWriter) str(s string) {
	w.u32(uint32(len(s)))
	_, _ = w.buf.WriteString(s)
}

// bytesCopy returns a stable copy of the accumulated payload so the
// pooled buffer can be released.
func (w payloadWriter) bytesCopy() []byte {
	out := make([]byte, len(w.buf.B))
	copy(out, w.buf.B)
	return out
}

// payloadReader walks a payload, latching the first error.
type payloadReader struct {
	data []byte
	off  int
	err  error
}

func newPayloadReader(p []byte) *payloadReader {
	return &payloadReader{data: p}
}

func (r *payloadReader) Err() error { return r.err }

func (r *payloadReader) fail() {
	if r.err == nil {
		r.err = errShortPayload
	}
}

func (r *payloadReader) u8() uint8 {
	if r.err != nil || r.off+1 > len(r.data) {
		r.fail()
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

func (r *payloadReader) bool() bool {
	return r.u8() != 0
}

func (r *payloadReader) u32() uint32 {
	if r.err != nil || r.off+4 > len(r.data) {
		r.fail()
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *payloadReader) u64() uint64 {
	if r.err != nil || r.off+8 > len(r.data) {
		r.fail()
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

func (r *payloadReader) i64() int64 {
	return int64(r.u64())
}

func (r *payloadReader) raw(n int) []byte {
	if r.err != nil || r.off+n > len(r.data) {
		r.fail()
		return nil
	}
	v := r.data[r.off : r.off+n]
	r.off += n
	return v
}

func (r *payloadReader) bytes() []byte {
	n := int(r.u32())
	return r.raw(n)
}

// count reads an element count and rejects one that could not fit in
// the remaining payload, each element needing at least min bytes. The
// count must never size an allocation before this check.
func (r *payloadReader) count(min int) int {
	n := int(r.u32())
	if r.err != nil {
		return 0
	}
	if n < 0 || n > (len(r.data)-r.off)/min {
		r.fail()
		return 0
	}
	return n
}

func (r *payloadReader) str() string {
	return string(r.bytes())
}
