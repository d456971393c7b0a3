package creds

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(b byte) []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = b
	}
	return key
}

func TestSealDecryptRoundtrip(t *testing.T) {
	st, err := NewSealedStoreWithKey(testKey(1))
	require.NoError(t, err)

	require.NoError(t, st.Seal("edge-01", "hunter2"))
	secret, err := st.Decrypt("edge-01")
	require.NoError(t, err)
	require.Equal(t, "hunter2", secret.Reveal())

	_, err = st.Decrypt("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	issuer, err := NewSealedStoreWithKey(testKey(1))
	require.NoError(t, err)
	require.NoError(t, issuer.Seal("edge-01", "hunter2"))

	other, err := NewSealedStoreWithKey(testKey(2))
	require.NoError(t, err)
	other.sealed = issuer.sealed

	_, err = other.Decrypt("edge-01")
	require.Error(t, err)
}

func TestSecretStringRedacted(t *testing.T) {
	st, err := NewSealedStoreWithKey(testKey(1))
	require.NoError(t, err)
	require.NoError(t, st.Seal("edge-01", "hunter2"))
	secret, err := st.Decrypt("edge-01")
	require.NoError(t, err)

	require.Equal(t, "[redacted]", secret.String())
	require.NotContains(t, fmt.Sprintf("%v %s %+v", secret, secret, secret), "hunter2")
}

func TestNewSealedStoreFromEnv(t *testing.T) {
	t.Setenv("FLEET_CREDS_KEY", "")
	_, err := NewSealedStore()
	require.Error(t, err)

	t.Setenv("FLEET_CREDS_KEY", "not-base64!!")
	_, err = NewSealedStore()
	require.Error(t, err)

	t.Setenv("FLEET_CREDS_KEY", base64.StdEncoding.EncodeToString(testKey(3)))
	st, err := NewSealedStore()
	require.NoError(t, err)
	require.NoError(t, st.Seal("r", "pw"))
}

func TestKeySizeEnforced(t *testing.T) {
	_, err := NewSealedStoreWithKey([]byte("short"))
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"edge-01":"pw1","edge-02":"pw2"}`), 0o600))

	st, err := NewSealedStoreWithKey(testKey(1))
	require.NoError(t, err)
	require.NoError(t, st.LoadFile(path))

	for ref, want := range map[string]string{"edge-01": "pw1", "edge-02": "pw2"} {
		secret, err := st.Decrypt(ref)
		require.NoError(t, err)
		require.Equal(t, want, secret.Reveal())
	}

	require.Error(t, st.LoadFile(filepath.Join(t.TempDir(), "absent.json")))
}
