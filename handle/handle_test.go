package handle

import (
	"errors"
	"testing"

	"github.com/ioplex/aio/aioerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeAndClose(t *testing.T) {
	var closedWith int64 = -999
	h := Make[int](42, func(id int64) error {
		closedWith = id
		return nil
	})
	require.True(t, h.Valid())
	assert.Equal(t, int64(42), h.ID())

	require.NoError(t, h.Close())
	assert.False(t, h.Valid())
	assert.Equal(t, int64(42), closedWith)
}

func TestDoubleCloseIsDefect(t *testing.T) {
	h := Make[int](7, func(id int64) error { return nil })
	require.NoError(t, h.Close())

	err := h.Close()
	require.Error(t, err)
	var defect *aioerr.ClosedHandleDefect
	assert.True(t, errors.As(err, &defect))
	assert.True(t, aioerr.IsDefect(err))
}

func TestTakeThenCloseDoesNotReleaseID(t *testing.T) {
	closed := false
	h := Make[int](5, func(id int64) error {
		closed = true
		return nil
	})
	id := h.Take()
	assert.Equal(t, int64(5), id)
	assert.False(t, h.Valid())

	// subsequent Close is a defect, not a double free of the OS resource.
	err := h.Close()
	require.Error(t, err)
	assert.False(t, closed)
}

func TestInvalidSentinelCloseIsNoop(t *testing.T) {
	called := false
	h := Make[int](InvalidID, func(id int64) error {
		called = true
		return nil
	})
	// Closing a sentinel handle is a true no-op, not a defect: the
	// sentinel never owned a live resource, so repeated Close calls must
	// all succeed silently.
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.False(t, called)

	h.Release()
	assert.False(t, called)
}

func TestReleaseSwallowsCloserError(t *testing.T) {
	h := Make[int](3, func(id int64) error {
		return errors.New("EBADF")
	})
	assert.NotPanics(t, func() {
		h.Release()
	})
	assert.False(t, h.Valid())
}
