package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aanfarhan/sso-sync/sync"
)

var testChoices = []sync.Choice{
	{Key: "client", Label: "Use client data"},
	{Key: "server", Label: "Use server data"},
	{Key: "skip", Label: "Skip"},
}

func TestTerminalResolver_Number(t *testing.T) {
	var out bytes.Buffer
	r := newTerminalResolver(strings.NewReader("2\n"), &out)

	got, err := r.Resolve(context.Background(), "Pick one", testChoices, "skip")
	require.NoError(t, err)
	assert.Equal(t, "server", got)
	assert.Contains(t, out.String(), "Use server data")
}

func TestTerminalResolver_KeyMatch(t *testing.T) {
	r := newTerminalResolver(strings.NewReader("CLIENT\n"), &bytes.Buffer{})

	got, err := r.Resolve(context.Background(), "Pick one", testChoices, "skip")
	require.NoError(t, err)
	assert.Equal(t, "client", got)
}

func TestTerminalResolver_EmptyPicksDefault(t *testing.T) {
	r := newTerminalResolver(strings.NewReader("\n"), &bytes.Buffer{})

	got, err := r.Resolve(context.Background(), "Pick one", testChoices, "skip")
	require.NoError(t, err)
	assert.Equal(t, "skip", got)
}

func TestTerminalResolver_RetriesOnGarbage(t *testing.T) {
	var out bytes.Buffer
	r := newTerminalResolver(strings.NewReader("banana\n1\n"), &out)

	got, err := r.Resolve(context.Background(), "Pick one", testChoices, "skip")
	require.NoError(t, err)
	assert.Equal(t, "client", got)
	assert.Contains(t, out.String(), "try again")
}

func TestTerminalResolver_EOFPicksDefault(t *testing.T) {
	r := newTerminalResolver(strings.NewReader(""), &bytes.Buffer{})

	got, err := r.Resolve(context.Background(), "Pick one", testChoices, "skip")
	require.NoError(t, err)
	assert.Equal(t, "skip", got)
}

func TestParseRoleMap(t *testing.T) {
	m := parseRoleMap([]string{"operator=write", " guest = skip ", "malformed"})
	assert.Equal(t, "write", m["operator"])
	assert.Equal(t, "skip", m["guest"])
	assert.Len(t, m, 2)
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"read", "profile"}, splitCSV("read, profile,"))
	assert.Nil(t, splitCSV(""))
}
