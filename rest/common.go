// Copyright 2026 The Poolvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

const (
	mimeJson = "application/json; charset=UTF-8"
)

var ok struct{}

// SizeRequest is the body of PUT /pool/size.
type SizeRequest struct {
	Size int `json:"size"`
}

// LimitRequest is the body of PUT /pool/limit.  Limit is in bytes;
// zero disables the resource threshold.
type LimitRequest struct {
	Limit uint64 `json:"limit"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}
