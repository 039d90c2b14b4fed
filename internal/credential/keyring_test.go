package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyringStoreRoundTrip(t *testing.T) {
	s := NewKeyringStore(keyring.NewArrayKeyring(nil))

	_, err := s.Get(APIKeyName)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(APIKeyName, "secret"))
	v, err := s.Get(APIKeyName)
	require.NoError(t, err)
	assert.Equal(t, "secret", v)

	require.NoError(t, s.Delete(APIKeyName))
	_, err = s.Get(APIKeyName)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.Delete(APIKeyName))
}

func TestMailboxKey(t *testing.T) {
	assert.Equal(t, "mailbox:me@example.com", MailboxKey("  Me@Example.com "))
}
