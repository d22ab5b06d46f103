package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf_Follows_Wrapping(t *testing.T) {
	req := require.New(t)

	err := fmt.Errorf("saving race: %w", ErrVersionMismatch)

	req.Equal(KindConflict, KindOf(err))
	req.True(Is(err, ErrVersionMismatch))
	req.True(IsClientVisible(err))
}

func TestTransient_Is_Not_Client_Visible(t *testing.T) {
	req := require.New(t)

	err := Transient(fmt.Errorf("dial tcp: timeout"), "twitch unavailable")

	req.Equal(KindTransient, KindOf(err))
	req.False(IsClientVisible(err))
	req.Equal("twitch unavailable: dial tcp: timeout", err.Error())
	req.Equal("twitch unavailable", Message(err))
}

func TestKindOf_Plain_Error_Is_Unknown(t *testing.T) {
	require.Equal(t, KindUnknown, KindOf(fmt.Errorf("boom")))
}
