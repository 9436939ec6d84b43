package revlog

import (
	"fmt"
	"strings"
)

const characters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// maxIDDigits keeps decoded revisions inside int64: 62^10 fits, 62^11 does not.
const maxIDDigits = 10

// RevisionToID encodes a revision index as a string that sorts, byte by
// byte, in index order: base-62 digits behind a prefix that encodes the
// digit count.
func RevisionToID(revision int) string {
	if revision < 0 {
		panic(fmt.Sprintf("revlog: negative revision %d", revision))
	}
	if revision == 0 {
		return "A0"
	}
	var digits []byte
	for revision > 0 {
		digit := revision % len(characters)
		digits = append(digits, characters[digit])
		revision /= len(characters)
	}
	id := make([]byte, 0, len(digits)+1)
	id = append(id, characters[len(digits)+9])
	for i := len(digits) - 1; i >= 0; i-- {
		id = append(id, digits[i])
	}
	return string(id)
}

// RevisionFromID decodes an id produced by RevisionToID.
func RevisionFromID(id string) (int, error) {
	if len(id) < 2 || len(id)-1 > maxIDDigits || id[0] != characters[len(id)+8] {
		return 0, fmt.Errorf("%w: %q", ErrCorruptRevisionID, id)
	}
	revision := 0
	for i := 1; i < len(id); i++ {
		digit := strings.IndexByte(characters, id[i])
		if digit < 0 {
			return 0, fmt.Errorf("%w: %q", ErrCorruptRevisionID, id)
		}
		revision = revision*len(characters) + digit
	}
	// Leading zeros would alias another id.
	if RevisionToID(revision) != id {
		return 0, fmt.Errorf("%w: %q is not canonical", ErrCorruptRevisionID, id)
	}
	return revision, nil
}
