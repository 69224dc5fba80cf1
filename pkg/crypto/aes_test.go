package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("12345678901234567890123456789012")

func TestNewSealer(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr error
	}{
		{name: "valid 32 byte key", key: testKey},
		{name: "invalid 16 byte key", key: []byte("1234567890123456"), wantErr: ErrInvalidKeySize},
		{name: "invalid 24 byte key", key: []byte("123456789012345678901234"), wantErr: ErrInvalidKeySize},
		{name: "invalid empty key", key: nil, wantErr: ErrInvalidKeySize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSealer(tt.key)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, s)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, s)
		})
	}
}

func TestSealer_SealOpen(t *testing.T) {
	s, err := NewSealer(testKey)
	require.NoError(t, err)

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"session json", []byte(`{"profile_id":"chrome-win","cookies":[{"name":"NID","value":"511=abc"}]}`)},
		{"unicode", []byte("会话记录 🍪")},
		{"large", bytes.Repeat([]byte("x"), 64*1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := s.Seal(tt.plaintext)
			require.NoError(t, err)
			assert.True(t, IsSealed(sealed))
			if len(tt.plaintext) > 0 {
				assert.NotContains(t, string(sealed), string(tt.plaintext))
			}

			opened, err := s.Open(sealed)
			require.NoError(t, err)
			assert.Equal(t, len(tt.plaintext), len(opened))
			assert.True(t, bytes.Equal(tt.plaintext, opened))
		})
	}
}

func TestSealer_NonceIsRandom(t *testing.T) {
	s, err := NewSealer(testKey)
	require.NoError(t, err)

	a, err := s.Seal([]byte("same"))
	require.NoError(t, err)
	b, err := s.Seal([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSealer_OpenErrors(t *testing.T) {
	s, err := NewSealer(testKey)
	require.NoError(t, err)
	other, err := NewSealer([]byte("abcdefghijabcdefghijabcdefghij12"))
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("secret"))
	require.NoError(t, err)

	t.Run("plaintext record", func(t *testing.T) {
		_, err := s.Open([]byte(`{"profile_id":"x"}`))
		assert.ErrorIs(t, err, ErrNotSealed)
	})

	t.Run("bad base64", func(t *testing.T) {
		_, err := s.Open([]byte("tg1:!!!not-base64!!!"))
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := s.Open([]byte("tg1:AAAA"))
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})

	t.Run("wrong key", func(t *testing.T) {
		_, err := other.Open(sealed)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("tampered", func(t *testing.T) {
		tampered := append([]byte(nil), sealed...)
		// flip a character inside the base64 body
		i := len(tampered) - 5
		if tampered[i] == 'A' {
			tampered[i] = 'B'
		} else {
			tampered[i] = 'A'
		}
		_, err := s.Open(tampered)
		assert.Error(t, err)
	})
}
