// Copyright (C) 2025 Wayfarer, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package tripdb

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// IDKind distinguishes identifiers the store has assigned from
// placeholders the editor made up client-side.
type IDKind uint8

const (
	// IDDurable is an identifier assigned by the authoritative store.
	IDDurable IDKind = iota
	// IDProvisional is a client-generated placeholder that exists only
	// until its entity is first persisted. Provisional IDs must never be
	// used as cache keys.
	IDProvisional
)

// ID is a tagged identifier. The tag is carried explicitly rather than
// inferred from the string's shape, so a user-supplied value can never be
// mistaken for a placeholder.
type ID struct {
	Kind  IDKind
	Value string
}

// Durable wraps a store-assigned identifier.
func Durable(v string) ID {
	return ID{Kind: IDDurable, Value: v}
}

// Provisional wraps a client-assigned placeholder.
func Provisional(v string) ID {
	return ID{Kind: IDProvisional, Value: v}
}

// NewProvisional mints a fresh placeholder identifier.
func NewProvisional() ID {
	return Provisional(uuid.NewString())
}

// IsProvisional reports whether the identifier is a placeholder.
func (id ID) IsProvisional() bool {
	return id.Kind == IDProvisional
}

// IsZero reports whether the identifier is empty.
func (id ID) IsZero() bool {
	return id.Value == ""
}

func (id ID) String() string {
	if id.IsProvisional() {
		return "provisional:" + id.Value
	}
	return id.Value
}

// idWire is the JSON envelope for an ID. Durable IDs serialize as a bare
// string; provisional ones as {"provisional": "..."} so the tag survives
// the editor round trip.
type idWire struct {
	Provisional string `json:"provisional"`
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsProvisional() {
		return json.Marshal(idWire{Provisional: id.Value})
	}
	return json.Marshal(id.Value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = Durable(s)
		return nil
	}
	var w idWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("malformed id: %w", err)
	}
	if w.Provisional == "" {
		return fmt.Errorf("malformed id: empty provisional value")
	}
	*id = Provisional(w.Provisional)
	return nil
}
