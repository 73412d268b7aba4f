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

package native

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bct8925/sftools-sub004/pkg/core"
)

const (
	// MaxInboundFrame is the largest message the browser sends to a host.
	MaxInboundFrame = 64 << 20
	// MaxOutboundFrame is the largest message the browser accepts from a host.
	MaxOutboundFrame = 1 << 20

	headerSize = 4
)

// ReadFrame reads one length-prefixed message. A frame larger than limit is
// drained from r and reported as core.ErrFrameTooLarge so the stream stays
// aligned.
func ReadFrame(r io.Reader, limit int) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.LittleEndian.Uint32(header[:])
	if int64(size) > int64(limit) {
		if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %d bytes", core.ErrFrameTooLarge, size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// WriteFrame writes data with its little-endian length prefix in a single
// Write call.
func WriteFrame(w io.Writer, data []byte) error {
	frame := make([]byte, headerSize+len(data))
	binary.LittleEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[headerSize:], data)
	_, err := w.Write(frame)
	return err
}
