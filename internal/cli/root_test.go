package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommand_Help(t *testing.T) {
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())
	require.Contains(t, buf.String(), "tuplespace")
	require.Contains(t, buf.String(), "run")
	require.Contains(t, buf.String(), "replay")
	require.Contains(t, buf.String(), "inspect")
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{"inspect", "--db", "/tmp/nope.db", "--format", "xml"})

	err := cmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid format")
}

func TestIsValidFormat(t *testing.T) {
	require.True(t, isValidFormat("text"))
	require.True(t, isValidFormat("json"))
	require.False(t, isValidFormat("yaml"))
}
