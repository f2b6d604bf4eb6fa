package fyers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"
)

var ErrTokenMissing = errors.New("fyers: access token missing or expired, connection pending")

// IST 券商 token 按印度自然日失效
var IST = time.FixedZone("IST", 5*3600+1800)

// TokenProvider 每次建连前取一次 token
type TokenProvider interface {
	AccessToken() (string, error)
}

// StaticToken 配置/环境变量里直接给的 token
type StaticToken string

func (t StaticToken) AccessToken() (string, error) {
	if t == "" {
		return "", ErrTokenMissing
	}
	return string(t), nil
}

type tokenDoc struct {
	AccessToken string    `json:"access_token"`
	Date        time.Time `json:"date"`
}

// TokenFile 登录流程把 token 写到文件，当天有效
type TokenFile struct {
	Path string
	now  func() time.Time
	mu   sync.Mutex
}

func NewTokenFile(path string) *TokenFile {
	return &TokenFile{Path: path, now: time.Now}
}

func (f *TokenFile) AccessToken() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrTokenMissing
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	var doc tokenDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return "", fmt.Errorf("parse token file: %w", err)
	}
	if doc.AccessToken == "" || !sameDay(doc.Date, f.now()) {
		return "", ErrTokenMissing
	}
	return doc.AccessToken, nil
}

// Save 先写临时文件再 rename，读的一方不会看到半个文件
func (f *TokenFile) Save(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := json.Marshal(tokenDoc{AccessToken: token, Date: f.now()})
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".fyers-token-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.In(IST).Date()
	by, bm, bd := b.In(IST).Date()
	return ay == by && am == bm && ad == bd
}
