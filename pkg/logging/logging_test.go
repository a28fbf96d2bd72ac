package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBuildsForEveryLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		t.Run(level, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", level)
			t.Setenv("LOG_ENCODING", "console")
			l, err := New("poolsync-test")
			require.NoError(t, err)
			require.NotNil(t, l)
		})
	}
}
