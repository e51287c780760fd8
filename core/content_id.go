// Copyright (c) 2024-2026 the meshswarm authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package core

import (
	"strconv"
	"time"

	"github.com/satori/go.uuid"
)

// ContentID is the authoritative identifier for an artifact. It is assigned
// by the producer and keys the swarm on both the tracker and participant
// side. Timestamp-plus-random is sufficient; no cryptographic properties are
// required of it.
type ContentID string

// NewContentID generates a fresh ContentID.
func NewContentID() ContentID {
	return ContentID(strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + uuid.NewV4().String())
}

func (c ContentID) String() string {
	return string(c)
}
