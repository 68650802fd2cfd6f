package ldap

import (
	"fmt"

	"github.com/google/uuid"
)

// GUIDBytesLength is the size of a binary objectGUID.
const GUIDBytesLength = 16

// DecodeGUID converts a binary objectGUID to its canonical string form.
// Active Directory stores the first three GUID fields little-endian.
func DecodeGUID(b []byte) (string, error) {
	if len(b) != GUIDBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", GUIDBytesLength, len(b))
	}

	u, err := uuid.FromBytes(swapGUIDBytes(b))
	if err != nil {
		return "", fmt.Errorf("invalid GUID: %w", err)
	}

	return u.String(), nil
}

// swapGUIDBytes converts between the mixed-endian and RFC 4122 layouts.
// The transformation is its own inverse.
func swapGUIDBytes(b []byte) []byte {
	out := make([]byte, GUIDBytesLength)

	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:], b[8:])

	return out
}
