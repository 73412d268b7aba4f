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

import "encoding/json"

// Operations accepted on the primary message channel.
const (
	OpSubscribe       = "subscribe"
	OpUnsubscribe     = "unsubscribe"
	OpPublish         = "publish"
	OpFetch           = "fetch"
	OpCheckConnection = "checkConnection"
	OpTransferInfo    = "transferInfo"
	OpDisconnect      = "disconnect"
	OpBulkWait        = "bulkWait"
	OpBulkResults     = "bulkResults"
	OpPing            = "ping"
)

// Message types pushed to the browser.
const (
	MessageResponse          = "response"
	MessageEvent             = "event"
	MessageSubscriptionError = "subscriptionError"
)

type Request struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	ConnectionID   string          `json:"connectionId,omitempty"`
	Credentials    Credentials     `json:"credentials"`
	Protocol       string          `json:"protocol,omitempty"`
	Channel        string          `json:"channel,omitempty"`
	SubscriptionID string          `json:"subscriptionId,omitempty"`
	Replay         Replay          `json:"replay"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	PayloadID      string          `json:"payloadId,omitempty"`
	HTTP           *HTTPRequest    `json:"request,omitempty"`
	JobID          string          `json:"jobId,omitempty"`
	Locator        string          `json:"locator,omitempty"`
	MaxRecords     int             `json:"maxRecords,omitempty"`
}

// Response answers exactly one Request. Large results carry PayloadID plus
// the transfer server coordinates instead of Data.
type Response struct {
	Type           string          `json:"type"`
	ID             string          `json:"id"`
	Success        bool            `json:"success"`
	Error          string          `json:"error,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	PayloadID      string          `json:"payloadId,omitempty"`
	Port           int             `json:"port,omitempty"`
	Secret         string          `json:"secret,omitempty"`
	SubscriptionID string          `json:"subscriptionId,omitempty"`
	Removed        *bool           `json:"removed,omitempty"`
}

type EventMessage struct {
	Type           string          `json:"type"`
	SubscriptionID string          `json:"subscriptionId"`
	Channel        string          `json:"channel"`
	Protocol       Protocol        `json:"protocol"`
	EventID        string          `json:"eventId,omitempty"`
	ReplayID       string          `json:"replayId,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	PayloadID      string          `json:"payloadId,omitempty"`
	Port           int             `json:"port,omitempty"`
	Secret         string          `json:"secret,omitempty"`
}

type SubscriptionErrorMessage struct {
	Type           string `json:"type"`
	SubscriptionID string `json:"subscriptionId"`
	Channel        string `json:"channel"`
	Error          string `json:"error"`
}

func Failure(id string, err error) Response {
	return Response{Type: MessageResponse, ID: id, Success: false, Error: err.Error()}
}

func Success(id string) Response {
	return Response{Type: MessageResponse, ID: id, Success: true}
}
