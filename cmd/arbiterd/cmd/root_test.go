package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taurusgroup/p2p-wager/pkg/arbiter"
	"github.com/taurusgroup/p2p-wager/pkg/identity"
)

func TestBuildPolicy(t *testing.T) {
	p, err := buildPolicy("", 8)
	require.NoError(t, err)
	assert.IsType(t, arbiter.Unconditional{}, p)

	p, err = buildPolicy(PolicyCosign, 8)
	require.NoError(t, err)
	assert.IsType(t, arbiter.WinnerMustCosign{}, p)

	p, err = buildPolicy(PolicyRegistry, 8)
	require.NoError(t, err)
	assert.IsType(t, &arbiter.MatchRegistry{}, p)

	p, err = buildPolicy(PolicyStrict, 8)
	require.NoError(t, err)
	assert.Len(t, p.(arbiter.Chain), 2)

	_, err = buildPolicy("trusting", 8)
	assert.Error(t, err)
	_, err = buildPolicy(PolicyRegistry, 0)
	assert.Error(t, err)
}

func TestKeyCommand(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "key.json")
	run := func(args ...string) string {
		root := NewRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetArgs(args)
		require.NoError(t, root.Execute())
		return out.String()
	}

	first := run("key", "--key-file", keyFile)
	lines := strings.Split(strings.TrimSpace(first), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "npub1"))
	pk, err := identity.ParseNpub(lines[0])
	require.NoError(t, err)
	assert.Equal(t, pk.Hex(), lines[1])

	assert.Equal(t, first, run("key", "--key-file", keyFile))
}

func TestConfigFromEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "env-key.json")
	t.Setenv("ARBITERD_KEY_FILE", keyFile)

	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"key"})
	require.NoError(t, root.Execute())
	_, err := os.Stat(keyFile)
	require.NoError(t, err)

	cfgFile := filepath.Join(dir, "arbiterd.yaml")
	other := filepath.Join(dir, "file-key.json")
	require.NoError(t, os.WriteFile(cfgFile, []byte("key-file: "+other+"\n"), 0o600))
	t.Setenv("ARBITERD_KEY_FILE", "")

	root = NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"key", "--config", cfgFile})
	require.NoError(t, root.Execute())
	_, err = os.Stat(other)
	require.NoError(t, err)
}
