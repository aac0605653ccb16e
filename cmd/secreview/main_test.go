package main

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCommand(viper.New())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "-l", "error"})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "Version:    dev")
	assert.Contains(t, out.String(), "rules)")
}

func TestSubcommandsRegistered(t *testing.T) {
	root := newRootCommand(viper.New())
	for _, name := range []string{"scan", "rules", "explain", "history", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}
