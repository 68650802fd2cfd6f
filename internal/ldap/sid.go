package ldap

import (
	"fmt"

	"github.com/bwmarrin/go-objectsid"
)

// minSIDLength is the size of a SID with revision, count and authority but no sub-authorities.
const minSIDLength = 8

// DecodeSID converts a binary objectSid or sIDHistory value to S-1-5-21-... form.
func DecodeSID(b []byte) (string, error) {
	if len(b) < minSIDLength {
		return "", fmt.Errorf("binary SID too short: %d bytes", len(b))
	}

	count := int(b[1])
	if want := minSIDLength + 4*count; len(b) != want {
		return "", fmt.Errorf("binary SID length %d does not match %d sub-authorities", len(b), count)
	}

	return objectsid.Decode(b).String(), nil
}
