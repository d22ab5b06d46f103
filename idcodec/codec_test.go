package idcodec

import (
	"testing"

	"race-lab/errors"

	"github.com/stretchr/testify/require"
)

func TestCodec_Round_Trip(t *testing.T) {
	req := require.New(t)
	codec, err := New("test-secret")
	req.NoError(err)

	for _, id := range []int64{0, 1, 42, 987654321} {
		s, err := codec.Encode(Race, id)
		req.NoError(err)
		req.Len(s, MinLength)

		back, err := codec.Decode(Race, s)
		req.NoError(err)
		req.Equal(id, back)
	}
}

func TestCodec_Entity_Types_Do_Not_Collide(t *testing.T) {
	req := require.New(t)
	codec, err := New("test-secret")
	req.NoError(err)

	raceID, err := codec.Encode(Race, 7)
	req.NoError(err)
	entrantID, err := codec.Encode(Entrant, 7)
	req.NoError(err)

	// Then the same number encodes differently per type
	req.NotEqual(raceID, entrantID)
	// And a race id is not accepted as an entrant id
	_, err = codec.Decode(Entrant, raceID)
	req.Equal(errors.KindNotFound, errors.KindOf(err))
}

func TestCodec_Secret_Changes_Encoding(t *testing.T) {
	req := require.New(t)
	a, _ := New("one")
	b, _ := New("two")

	req.NotEqual(a.MustEncode(User, 5), b.MustEncode(User, 5))
}

func TestCodec_Rejects_Garbage(t *testing.T) {
	codec, _ := New("test-secret")
	_, err := codec.Decode(User, "not-a-hashid")
	require.Error(t, err)
}
