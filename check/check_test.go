package check

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestThatPassesWhenTrue(t *testing.T) {
	require.NotPanics(t, func() { That(true, "never") })
}

func TestFailfPanicsWithFailure(t *testing.T) {
	defer func() {
		r := recover()
		f, ok := r.(*Failure)
		require.True(t, ok, "panic value should be *Failure, got %T", r)
		require.Equal(t, "bad register 7", f.Msg)
		require.Contains(t, f.Error(), "bad register 7")
	}()
	That(false, "bad register %d", 7)
}
