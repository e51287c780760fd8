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
package signal

import (
	"encoding/json"
	"fmt"
)

// UnknownTypeError returns when an envelope carries a type tag outside the
// canonical protocol. Callers log and drop such envelopes without
// disconnecting the sender.
type UnknownTypeError struct {
	Type Type
}

func (e UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown envelope type %q", string(e.Type))
}

type header struct {
	Type Type `json:"type"`
}

// Marshal encodes e as a JSON object with its type tag.
func Marshal(e Envelope) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope body: %s", err)
	}
	tag, err := json.Marshal(header{e.EnvelopeType()})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope type: %s", err)
	}
	if string(body) == "{}" {
		return tag, nil
	}
	// Splice the type tag into the body object.
	out := append(tag[:len(tag)-1], ',')
	out = append(out, body[1:]...)
	return out, nil
}

// Unmarshal decodes one envelope. An unrecognized type tag yields an
// UnknownTypeError.
func Unmarshal(b []byte) (Envelope, error) {
	var h header
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("unmarshal envelope type: %s", err)
	}

	var (
		e   Envelope
		err error
	)
	switch h.Type {
	case TypeWelcome:
		e, err = decode[Welcome](b)
	case TypeAnnounce:
		e, err = decode[Announce](b)
	case TypeAnnounceResponse:
		e, err = decode[AnnounceResponse](b)
	case TypePeerJoinedSwarm:
		e, err = decode[PeerJoinedSwarm](b)
	case TypePeerLeftSwarm:
		e, err = decode[PeerLeftSwarm](b)
	case TypeLeave:
		e, err = decode[Leave](b)
	case TypeRequestConnection:
		e, err = decode[RequestConnection](b)
	case TypeOffer:
		e, err = decode[Offer](b)
	case TypeAnswer:
		e, err = decode[Answer](b)
	case TypeICECandidate:
		e, err = decode[ICECandidate](b)
	default:
		return nil, UnknownTypeError{h.Type}
	}
	return e, err
}

func decode[T Envelope](b []byte) (Envelope, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("unmarshal %s envelope: %s", v.EnvelopeType(), err)
	}
	return v, nil
}
