package revlog

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestRevisionToID(t *testing.T) {
	assert.Equal(t, RevisionToID(0), "A0")
	assert.Equal(t, RevisionToID(1), "A1")
	assert.Equal(t, RevisionToID(61), "Az")
	assert.Equal(t, RevisionToID(62), "B10")
	assert.Equal(t, RevisionToID(62*62), "C100")
}

func TestRevisionIDLongest(t *testing.T) {
	id := "J" + strings.Repeat("z", 10)
	n, err := RevisionFromID(id)
	assert.Equal(t, err, nil)
	assert.Equal(t, RevisionToID(n), id)
}

func TestRevisionIDOrder(t *testing.T) {
	// ids sort byte-wise in revision order, which stores rely on
	prev := RevisionToID(0)
	for i := 1; i < 300000; i += 7 {
		id := RevisionToID(i)
		if id <= prev {
			t.Fatalf("id %s for %d does not sort after %s", id, i, prev)
		}
		prev = id
	}
}

func TestRevisionIDRoundTrip(t *testing.T) {
	for _, i := range []int{0, 1, 9, 10, 61, 62, 63, 100, 3843, 3844, 1 << 20, 1<<31 - 1} {
		n, err := RevisionFromID(RevisionToID(i))
		assert.Equal(t, err, nil)
		assert.Equal(t, n, i)
	}
}

func TestRevisionFromIDCorrupt(t *testing.T) {
	for _, id := range []string{
		"", "A", "B1", "A!", "B01", "checkpoint", "-1",
		// More digits than an int64 holds.
		"Kzzzzzzzzzzz", "K10000000000", "Lzzzzzzzzzzzz", "Mzzzzzzzzzzzzz",
		"Ozzzzzzzzzzzzzzzz", "Pzzzzzzzzzzzzzzzzz", "z" + strings.Repeat("z", 61),
	} {
		_, err := RevisionFromID(id)
		assert.Equal(t, errors.Is(err, ErrCorruptRevisionID), true)
	}
}
