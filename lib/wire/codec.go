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
package wire

import (
	"encoding/json"
	"fmt"
)

// UnknownTypeError returns when a frame carries an unrecognized type tag.
type UnknownTypeError struct {
	Type Type
}

func (e UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown frame type %q", string(e.Type))
}

type header struct {
	Type Type `json:"type"`
}

// Marshal encodes f as a JSON object with its type tag.
func Marshal(f Frame) ([]byte, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal frame body: %s", err)
	}
	tag, err := json.Marshal(header{f.FrameType()})
	if err != nil {
		return nil, fmt.Errorf("marshal frame type: %s", err)
	}
	if string(body) == "{}" {
		return tag, nil
	}
	out := append(tag[:len(tag)-1], ',')
	out = append(out, body[1:]...)
	return out, nil
}

// Unmarshal decodes one frame. An unrecognized type tag yields an
// UnknownTypeError.
func Unmarshal(b []byte) (Frame, error) {
	var h header
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("unmarshal frame type: %s", err)
	}

	var (
		f   Frame
		err error
	)
	switch h.Type {
	case TypeMetadata:
		f, err = decode[Metadata](b)
	case TypeBitfield:
		f, err = decode[Bitfield](b)
	case TypeHave:
		f, err = decode[Have](b)
	case TypeRequest:
		f, err = decode[Request](b)
	case TypePiece:
		f, err = decode[Piece](b)
	default:
		return nil, UnknownTypeError{h.Type}
	}
	return f, err
}

func decode[T Frame](b []byte) (Frame, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("unmarshal %s frame: %s", v.FrameType(), err)
	}
	return v, nil
}
