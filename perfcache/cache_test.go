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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestAppendAndLast(t *testing.T) {
	cache := openTestCache(t)
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, v := range []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7} {
		require.NoError(t, cache.Append("model-1", v, t0.Add(time.Duration(i)*time.Second)))
	}
	last, err := cache.Last("model-1", 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.7, 0.6, 0.5, 0.4, 0.3}, last)
}

func TestLastUnknownModel(t *testing.T) {
	cache := openTestCache(t)
	last, err := cache.Last("missing", 5)
	require.NoError(t, err)
	assert.Len(t, last, 0)
}

func TestModelsDoNotLeakIntoEachOther(t *testing.T) {
	cache := openTestCache(t)
	now := time.Now()
	require.NoError(t, cache.Append("a", 0.9, now))
	// model id "a" must not act as a prefix of model id "ab"
	require.NoError(t, cache.Append("ab", 0.1, now))
	last, err := cache.Last("a", 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.9}, last)
}

func TestCloseNil(t *testing.T) {
	var cache *Cache
	assert.NoError(t, cache.Close())
}
