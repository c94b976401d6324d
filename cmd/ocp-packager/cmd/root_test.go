package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUseNightly(t *testing.T) {
	t.Parallel()

	require.False(t, useNightly(false, nil))
	require.True(t, useNightly(true, nil))
	require.True(t, useNightly(false, []string{"nightly"}))
	require.False(t, useNightly(false, []string{"release"}))
}

func TestApplyLogLevel(t *testing.T) {
	defer func(previous string) { logLevel = previous }(logLevel)

	logLevel = "verbose"
	require.Error(t, applyLogLevel(nil, nil))

	logLevel = "warn"
	require.NoError(t, applyLogLevel(nil, nil))

	logLevel = "info"
	require.NoError(t, applyLogLevel(nil, nil))
}
