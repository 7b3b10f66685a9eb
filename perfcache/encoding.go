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

package perfcache

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// PerformancePrefix marks per-model performance entries
	PerformancePrefix byte = 0x01

	keySeparator byte = 0x00
)

// encodePerfKey builds `prefix | model_id | 0x00 | big-endian unix nanos`.
// The timestamp suffix keeps entries of one model in chronological key
// order so an iteration naturally yields oldest first.
func encodePerfKey(modelID string, t time.Time) []byte {
	idBytes := []byte(modelID)
	key := make([]byte, 1+len(idBytes)+1+8)
	key[0] = PerformancePrefix
	copy(key[1:], idBytes)
	key[1+len(idBytes)] = keySeparator
	binary.BigEndian.PutUint64(key[2+len(idBytes):], uint64(t.UTC().UnixNano()))
	return key
}

func encodePerfPrefix(modelID string) []byte {
	idBytes := []byte(modelID)
	key := make([]byte, 1+len(idBytes)+1)
	key[0] = PerformancePrefix
	copy(key[1:], idBytes)
	key[1+len(idBytes)] = keySeparator
	return key
}

func encodePerformance(v float64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	return buf
}

func decodePerformance(data []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(data))
}
