// Package session implements SessionIdentity: a 16-byte identifier
// drawn from a cryptographically strong source, generated once per
// producer invocation and checked for consistency across volumes on
// the consumer side.
package session

import (
	"bytes"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// IdentitySize is the fixed wire length of a SessionUUID payload.
const IdentitySize = 16

// Identity is the opaque 16-byte session identifier carried in every
// volume's SessionUUID frame. Decoders never interpret it as an RFC
// 4122 UUID; they only compare its bytes.
type Identity [IdentitySize]byte

// New generates a fresh random Identity using google/uuid's
// crypto/rand-backed generator, the way ehrlich-b-wingthing mints
// identifiers throughout its codebase.
func New() (Identity, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return Identity{}, errors.Wrap(err, "session: generating identity")
	}
	return Identity(id), nil
}

// FromBytes validates and wraps a wire payload as an Identity.
func FromBytes(b []byte) (Identity, error) {
	var id Identity
	if len(b) != IdentitySize {
		return id, errors.Errorf("session: identity payload is %d bytes, want %d", len(b), IdentitySize)
	}
	copy(id[:], b)
	return id, nil
}

// Bytes returns the raw 16 bytes for wire encoding.
func (id Identity) Bytes() []byte {
	return id[:]
}

// Equal reports whether two identities carry the same bytes.
func (id Identity) Equal(other Identity) bool {
	return bytes.Equal(id[:], other[:])
}

// IsZero reports whether id is the unset zero value.
func (id Identity) IsZero() bool {
	return id == Identity{}
}
