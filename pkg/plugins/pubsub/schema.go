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

package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/linkedin/goavro/v2"
	"golang.org/x/sync/singleflight"
)

type schemaFetcher func(ctx context.Context, schemaID string) (string, error)

// schemaCache holds one Avro codec per schema id. Concurrent misses for the
// same id share a single GetSchema call.
type schemaCache struct {
	mu     sync.RWMutex
	codecs map[string]*goavro.Codec
	group  singleflight.Group
}

func newSchemaCache() *schemaCache {
	return &schemaCache{codecs: make(map[string]*goavro.Codec)}
}

func (c *schemaCache) codec(ctx context.Context, schemaID string, fetch schemaFetcher) (*goavro.Codec, error) {
	c.mu.RLock()
	codec, ok := c.codecs[schemaID]
	c.mu.RUnlock()
	if ok {
		return codec, nil
	}

	v, err, _ := c.group.Do(schemaID, func() (any, error) {
		schemaJSON, err := fetch(ctx, schemaID)
		if err != nil {
			return nil, err
		}
		codec, err := goavro.NewCodecForStandardJSONFull(schemaJSON)
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", schemaID, err)
		}
		c.mu.Lock()
		c.codecs[schemaID] = codec
		c.mu.Unlock()
		return codec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*goavro.Codec), nil
}

func (c *schemaCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.codecs)
}

func decodeAvro(codec *goavro.Codec, payload []byte) ([]byte, error) {
	native, _, err := codec.NativeFromBinary(payload)
	if err != nil {
		return nil, err
	}
	return codec.TextualFromNative(nil, native)
}

func encodeAvro(codec *goavro.Codec, textual []byte) ([]byte, error) {
	native, _, err := codec.NativeFromTextual(textual)
	if err != nil {
		return nil, err
	}
	return codec.BinaryFromNative(nil, native)
}
