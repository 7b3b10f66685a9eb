// Copyright 2025 Sybl Developers
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

import (
	"encoding/binary"
	"io"

	"github.com/Sybl-ml/dodona-sub000/derrors"
)

// MaxFrameSize caps a single frame at 512 MB. Datasets travel inside
// a single frame so the limit must stay generous.
const MaxFrameSize = 512 << 20

// WriteFrame writes a 4-byte big-endian length prefix followed by the
// payload. The caller is responsible for write serialisation.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return derrors.Newf(derrors.Protocol, "frame too large: %d bytes", len(payload))
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return derrors.Newf(derrors.Stream, "failed to write frame prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return derrors.Newf(derrors.Stream, "failed to write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and returns its payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, derrors.Newf(derrors.Stream, "failed to read frame prefix: %w", err)
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxFrameSize {
		return nil, derrors.Newf(derrors.Protocol, "frame too large: %d bytes", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, derrors.Newf(derrors.Stream, "failed to read frame payload: %w", err)
	}
	return payload, nil
}
