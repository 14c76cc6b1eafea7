package classifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "api_key")
	cs := NewCredentialStore(path, "page-guard")

	_, err := cs.Load()
	assert.ErrorIs(t, err, ErrMissingCredential)

	assert.ErrorIs(t, cs.Save("   "), ErrMissingCredential)
	require.NoError(t, cs.Save(" sk-test \n"))

	key, err := cs.Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", key)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, os.WriteFile(path, []byte("\n"), 0o600))
	_, err = cs.Load()
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestCredentialStoreDefaultPath(t *testing.T) {
	cs := NewCredentialStore("", "page-guard")
	assert.Equal(t, "api_key", filepath.Base(cs.Path()))
	assert.Equal(t, "page-guard", filepath.Base(filepath.Dir(cs.Path())))
}
