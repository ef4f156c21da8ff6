package config

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKeySegment(t *testing.T) {
	assert.Equal(t, "OPTIONS_SERVER", normalizeKeySegment("options-server"))
	assert.Equal(t, "LISTEN_ADDR", normalizeKeySegment("listen.addr"))
	assert.Equal(t, "FEE_RECIPIENT", normalizeKeySegment("  fee recipient  "))
	assert.Equal(t, "DB_DSN", normalizeKeySegment("db__dsn"))
	assert.Equal(t, "", normalizeKeySegment("---"))
}

func TestParseCSVEnv(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseCSVEnv(" a , b ,", nil))
	assert.Equal(t, []string{"x"}, parseCSVEnv("", []string{"x"}))
	assert.Equal(t, []string{"x"}, parseCSVEnv(" , ,", []string{"x"}))
}

func TestEnvPubkeyList(t *testing.T) {
	a := solana.NewWallet().PublicKey()
	b := solana.NewWallet().PublicKey()

	t.Setenv("TEST_PUBKEY_LIST", a.String()+","+b.String()+","+a.String())
	keys, err := envPubkeyList("TEST_PUBKEY_LIST")
	require.NoError(t, err)
	assert.Equal(t, []solana.PublicKey{a, b}, keys)

	t.Setenv("TEST_PUBKEY_LIST", "not-a-key")
	_, err = envPubkeyList("TEST_PUBKEY_LIST")
	assert.Error(t, err)

	keys, err = envPubkeyList("TEST_PUBKEY_LIST_UNSET")
	require.NoError(t, err)
	assert.Nil(t, keys)
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "45s")
	d, err := envDuration("TEST_DURATION", 0)
	require.NoError(t, err)
	assert.Equal(t, "45s", d.String())

	t.Setenv("TEST_DURATION", "-1s")
	_, err = envDuration("TEST_DURATION", 0)
	assert.Error(t, err)
}
