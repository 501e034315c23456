package crypto

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignMatchesExchangeExample(t *testing.T) {
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	assert.Equal(t, "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71", Sign(secret, payload))
}

func TestSignQueryAt(t *testing.T) {
	h := &HMACAuth{Key: "k", Secret: "s", RecvWindow: 5 * time.Second}
	at := time.UnixMilli(1700000000123)

	q := h.SignQueryAt(url.Values{"symbol": {"BTCUSDT"}}, at)

	payload, sig, ok := strings.Cut(q, "&signature=")
	require.True(t, ok)
	assert.Equal(t, "recvWindow=5000&symbol=BTCUSDT&timestamp=1700000000123", payload)
	assert.Equal(t, Sign("s", payload), sig)
	assert.Len(t, sig, 64)
}

func TestHMACAuthRedacts(t *testing.T) {
	h := &HMACAuth{Key: "public-key", Secret: "very-secret"}
	assert.NotContains(t, h.String(), "very-secret")
	assert.NotContains(t, h.String(), "public-key")
	assert.Equal(t, "public-key", h.Headers()[APIKeyHeader])
}

func TestEncryptDecryptSecret(t *testing.T) {
	blob, err := EncryptSecret("api-secret-value", "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "api-secret-value")

	got, err := DecryptSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "api-secret-value", got)

	_, err = DecryptSecret(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptSecretRequiresPassword(t *testing.T) {
	_, err := EncryptSecret("x", "")
	assert.Error(t, err)
	_, err = EncryptSecret("  ", "pw")
	assert.Error(t, err)
}

func TestLoadSecret(t *testing.T) {
	got, err := LoadSecret(SecretConfig{RawSecret: " raw "})
	require.NoError(t, err)
	assert.Equal(t, "raw", got)

	blob, err := EncryptSecret("from-file", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	_, err = LoadSecret(SecretConfig{})
	assert.Error(t, err)
}
