package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserAgentFollowsVersion(t *testing.T) {
	prev := Version
	t.Cleanup(func() { Version = prev })

	Version = "1.2.3"
	require.Equal(t, "stockdata/1.2.3", UserAgent())
	require.Contains(t, String(), "version: 1.2.3\n")
}
