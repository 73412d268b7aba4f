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

package core

import "errors"

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrUnsupported      = errors.New("unsupported operation")
	ErrNoAdapter        = errors.New("no adapter for protocol")
	ErrUpstream         = errors.New("upstream failure")
	ErrStreamClosed     = errors.New("upstream stream closed")
	ErrHostNotAllowed   = errors.New("host not allowed")
	ErrJobFailed        = errors.New("bulk job failed")
	ErrNotRunning       = errors.New("transfer server not running")
	ErrAdapterClosed    = errors.New("adapter closed")
	ErrFrameTooLarge    = errors.New("frame exceeds size limit")
	ErrUnknownOperation = errors.New("unknown operation")
)
