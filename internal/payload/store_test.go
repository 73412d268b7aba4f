// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package payload

import (
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	s := NewStore()
	defer s.Close()

	inputs := [][]byte{
		[]byte("hello"),
		{},
		{0x00, 0xff, 0x10, 0x80, 0xc3},
		[]byte("Ünïcödé ✓"),
	}
	for _, in := range inputs {
		id := s.Store(in)
		got, ok := s.Get(id)
		require.True(t, ok)
		assert.Equal(t, in, got)
	}
	assert.Equal(t, len(inputs), s.Count())
}

func TestStoreCopiesInput(t *testing.T) {
	s := NewStore()
	defer s.Close()

	in := []byte("abc")
	id := s.Store(in)
	in[0] = 'z'

	got, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, "abc", string(got))
}

func TestGetMissing(t *testing.T) {
	s := NewStore()
	got, ok := s.Get("never-stored")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := NewStore()
	defer s.Close()

	keep := s.Store([]byte("keep"))
	id := s.Store([]byte("gone"))

	s.Delete(id)
	assert.Equal(t, 1, s.Count())
	s.Delete(id)
	assert.Equal(t, 1, s.Count())
	s.Delete("never-stored")
	assert.Equal(t, 1, s.Count())

	_, ok := s.Get(keep)
	assert.True(t, ok)
}

func TestDeleteMiddleOfThree(t *testing.T) {
	s := NewStore()
	defer s.Close()

	first := s.Store([]byte("first"))
	middle := s.Store([]byte("middle"))
	last := s.Store([]byte("last"))

	s.Delete(middle)
	assert.Equal(t, 2, s.Count())

	got, ok := s.Get(first)
	require.True(t, ok)
	assert.Equal(t, "first", string(got))

	got, ok = s.Get(last)
	require.True(t, ok)
	assert.Equal(t, "last", string(got))

	_, ok = s.Get(middle)
	assert.False(t, ok)
}

func TestExpiryBoundary(t *testing.T) {
	mock := clock.NewMock()
	s := NewStore(WithClock(mock), WithRetention(time.Minute))

	id := s.Store([]byte("data"))
	require.Equal(t, 1, s.Count())

	mock.Add(time.Minute - time.Millisecond)
	got, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, "data", string(got))
	assert.Equal(t, 1, s.Count())

	mock.Add(time.Millisecond)
	got, ok = s.Get(id)
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.Equal(t, 0, s.Count())
}

func TestExpiredReadPurges(t *testing.T) {
	mock := clock.NewMock()
	s := NewStore(WithClock(mock), WithRetention(time.Second))

	expired := s.Store([]byte("old"))
	mock.Add(500 * time.Millisecond)
	fresh := s.Store([]byte("new"))
	before := s.Count()
	require.Equal(t, 2, before)

	mock.Add(500 * time.Millisecond)
	_, ok := s.Get(expired)
	assert.False(t, ok)
	assert.Equal(t, before-1, s.Count())

	got, ok := s.Get(fresh)
	require.True(t, ok)
	assert.Equal(t, "new", string(got))
}

func TestTimerExpiresUnreadEntries(t *testing.T) {
	mock := clock.NewMock()
	s := NewStore(WithClock(mock), WithRetention(time.Second))

	s.Store([]byte("a"))
	s.Store([]byte("b"))
	mock.Add(2 * time.Second)

	assert.Eventually(t, func() bool { return s.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestDeleteCancelsTimer(t *testing.T) {
	mock := clock.NewMock()
	s := NewStore(WithClock(mock), WithRetention(time.Second))

	id := s.Store([]byte("a"))
	s.Delete(id)
	other := s.Store([]byte("b"))

	mock.Add(500 * time.Millisecond)
	_, ok := s.Get(other)
	assert.True(t, ok)
	assert.Equal(t, 1, s.Count())
}

func TestShouldUseLargePayload(t *testing.T) {
	s := NewStore(WithThreshold(1024))

	assert.False(t, s.ShouldUseLargePayload(make([]byte, 1023)))
	assert.True(t, s.ShouldUseLargePayload(make([]byte, 1024)))
	assert.True(t, s.ShouldUseLargePayload(make([]byte, 1025)))
	assert.False(t, s.ShouldUseLargePayload(nil))
}

func TestShouldUseLargePayloadCountsBytes(t *testing.T) {
	s := NewStore(WithThreshold(1024))

	// 512 two-byte characters: a character count would say 512.
	twoByte := strings.Repeat("é", 512)
	require.Equal(t, 1024, len(twoByte))
	assert.True(t, s.ShouldUseLargePayload([]byte(twoByte)))

	// 341 three-byte characters plus "x" is 1024 bytes, 342 characters.
	threeByte := strings.Repeat("€", 341) + "x"
	require.Equal(t, 1024, len(threeByte))
	assert.True(t, s.ShouldUseLargePayload([]byte(threeByte)))

	under := strings.Repeat("é", 511) + "x"
	require.Equal(t, 1023, len(under))
	assert.False(t, s.ShouldUseLargePayload([]byte(under)))
}

func TestDefaultThreshold(t *testing.T) {
	s := NewStore()
	assert.Equal(t, 800*1024, s.Threshold())
	assert.False(t, s.ShouldUseLargePayload(make([]byte, 800*1024-1)))
	assert.True(t, s.ShouldUseLargePayload(make([]byte, 800*1024)))
}
