package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "pangguai_data.json")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	s, _ := tempStore(t)
	assert.Empty(t, s.UserIDs())
	_, ok := s.Token("acc1")
	assert.False(t, ok)
}

func TestOpenEmptyFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pangguai_data.json")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	s, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, s.UserIDs())
}

func TestOpenCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pangguai_data.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := Open(path)
	assert.Error(t, err)
}

func TestRoundTripPersistsEveryMutation(t *testing.T) {
	s, path := tempStore(t)

	require.NoError(t, s.SetAccounts("user1", []string{"a1", "a2"}))
	require.NoError(t, s.SetToken("a1", "tok-a1"))
	require.NoError(t, s.SetMobile("a1", "13800138000"))
	require.NoError(t, s.SetAuth("a1", "2026-09-30"))

	// Reopen from disk: everything must survive.
	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, reopened.Accounts("user1"))
	tok, ok := reopened.Token("a1")
	require.True(t, ok)
	assert.Equal(t, "tok-a1", tok)
	mobile, ok := reopened.Mobile("a1")
	require.True(t, ok)
	assert.Equal(t, "13800138000", mobile)
	auth, ok := reopened.Auth("a1")
	require.True(t, ok)
	assert.Equal(t, "2026-09-30", auth)
}

func TestSetAccountsDeduplicates(t *testing.T) {
	s, _ := tempStore(t)
	require.NoError(t, s.SetAccounts("user1", []string{"a1", "a2", "a1", "a2", "a3"}))
	assert.Equal(t, []string{"a1", "a2", "a3"}, s.Accounts("user1"))
}

func TestEmptyAccountListRemovesUser(t *testing.T) {
	s, _ := tempStore(t)
	require.NoError(t, s.SetAccounts("user1", []string{"a1"}))
	require.NoError(t, s.SetAccounts("user1", nil))
	assert.Empty(t, s.UserIDs())
}

func TestDeleteRemovesRecord(t *testing.T) {
	s, _ := tempStore(t)
	require.NoError(t, s.SetToken("a1", "tok"))
	require.NoError(t, s.DeleteToken("a1"))
	_, ok := s.Token("a1")
	assert.False(t, ok)
}
