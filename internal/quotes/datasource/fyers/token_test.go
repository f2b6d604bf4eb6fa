package fyers

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenFile_SameDay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fyers_token.json")
	f := NewTokenFile(path)

	_, err := f.AccessToken()
	assert.ErrorIs(t, err, ErrTokenMissing)

	// 印度时间 09:00 登录
	login := time.Date(2026, 3, 10, 9, 0, 0, 0, IST)
	f.now = func() time.Time { return login }
	require.NoError(t, f.Save("tok-1"))

	f.now = func() time.Time { return login.Add(14 * time.Hour) } // 23:00 同一天
	tok, err := f.AccessToken()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	f.now = func() time.Time { return login.Add(15*time.Hour + time.Minute) } // 过了午夜
	_, err = f.AccessToken()
	assert.ErrorIs(t, err, ErrTokenMissing)
}

func TestTokenFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fyers_token.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	_, err := NewTokenFile(path).AccessToken()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTokenMissing)
}

func TestStaticToken(t *testing.T) {
	_, err := StaticToken("").AccessToken()
	assert.ErrorIs(t, err, ErrTokenMissing)

	tok, err := StaticToken("abc").AccessToken()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
}
