// ABOUTME: Tests for credential prompts on non-terminal input
// ABOUTME: Terminal echo handling needs a real tty and is not covered here

package prompt

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordFrom_Pipe(t *testing.T) {
	var out bytes.Buffer
	pw, err := PasswordFrom(strings.NewReader("s3cret\r\nignored\n"), &out, "Password: ")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pw)
	assert.Equal(t, "Password: ", out.String())
}

func TestPasswordFrom_NoTrailingNewline(t *testing.T) {
	pw, err := PasswordFrom(strings.NewReader("s3cret"), &bytes.Buffer{}, "")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pw)
}

func TestPasswordFrom_Empty(t *testing.T) {
	_, err := PasswordFrom(strings.NewReader(""), &bytes.Buffer{}, "")
	assert.Error(t, err)
}

func TestLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("\n  alice  \n"))
	var out bytes.Buffer

	assert.Equal(t, "fallback", Line(r, &out, "User", "fallback"))
	assert.Equal(t, "alice", Line(r, &out, "User", ""))
	assert.Equal(t, "User [fallback]: User: ", out.String())
}
