package httpstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Credentials selects how the client authenticates. A static Token wins over
// client credentials.
type Credentials struct {
	Token        string
	TokenURL     string
	ClientID     string
	ClientSecret string
	// CacheFile, when set, keeps the last issued token across runs.
	CacheFile string
}

// TokenSource returns the token source described by c.
func (c Credentials) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	if c.Token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.Token, TokenType: "Bearer"}), nil
	}
	if c.TokenURL == "" || c.ClientID == "" {
		return nil, errors.New("remote store needs either a token or token_url and client_id")
	}
	cc := &clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
	}
	if c.CacheFile == "" {
		return cc.TokenSource(ctx), nil
	}
	cached, err := loadToken(c.CacheFile)
	if err != nil {
		// Corrupt cache: fetch a fresh token and overwrite it.
		cached = nil
	}
	return oauth2.ReuseTokenSource(cached, &savingTokenSource{ts: cc.TokenSource(ctx), path: c.CacheFile}), nil
}

// savingTokenSource wraps a TokenSource and persists fetched tokens.
type savingTokenSource struct {
	ts   oauth2.TokenSource
	path string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.ts.Token()
	if err != nil {
		return nil, err
	}
	// Best-effort save; ignore errors.
	_ = saveToken(s.path, tok)
	return tok, nil
}

// loadToken loads a previously saved token from disk. A missing file is not
// an error.
func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("corrupt token file %s: %w", path, err)
	}
	return &tok, nil
}

// saveToken persists a token to disk.
func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating auth directory: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling token: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("saving token file: %w", err)
	}
	return nil
}
