package bitrix

// auth.go provides OAuth access for a Bitrix24 local application. Webhook
// access needs no token and uses NewClient directly.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// tokenURL is the Bitrix24 OAuth server.
var tokenURL = "https://oauth.bitrix.info/oauth/token/"

// OAuthConfig describes a local application installed on a portal.
type OAuthConfig struct {
	PortalURL     string
	ClientID      string
	ClientSecret  string
	TokenFilePath string
}

// oauth2Config returns the oauth2 configuration of the application.
func (o OAuthConfig) oauth2Config() *oauth2.Config {
	portal := strings.TrimRight(o.PortalURL, "/")
	return &oauth2.Config{
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   portal + "/oauth/authorize/",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// NewOAuthClient returns a client authenticated with the token saved at
// cfg.TokenFilePath. The token is refreshed when needed and every refreshed token is
// saved back to the file. If no token exists, it will fail, requiring a login first.
func NewOAuthClient(ctx context.Context, cfg OAuthConfig, httpClient *http.Client, opts Options, logger *slog.Logger) (*Client, error) {
	tok, err := loadTokenFromFile(cfg.TokenFilePath)
	if err != nil {
		return nil, fmt.Errorf("no token file found at %q, please log in first: %w", cfg.TokenFilePath, err)
	}

	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}

	client, err := NewClient(strings.TrimRight(cfg.PortalURL, "/")+"/rest/", httpClient, opts, logger)
	if err != nil {
		return nil, err
	}

	// Check if the token needs refreshing now, so that a bad refresh token is reported
	// at start up.
	src := &savingTokenSource{
		src:  cfg.oauth2Config().TokenSource(context.WithoutCancel(ctx), tok),
		path: cfg.TokenFilePath,
		last: tok.AccessToken,
		log:  client.log,
	}
	if _, err := src.Token(); err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	client.tokens = src
	return client, nil
}

// savingTokenSource saves each new token obtained from src.
type savingTokenSource struct {
	mu   sync.Mutex
	src  oauth2.TokenSource
	path string
	last string
	log  *slog.Logger
}

// Token returns a valid token, saving it if it was refreshed.
func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last {
		s.log.Info("access token was refreshed, saving new token")
		if err := saveTokenToFile(tok, s.path); err != nil {
			return nil, fmt.Errorf("failed to save refreshed token: %w", err)
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}

// Login runs the interactive authorization code flow: the authorization URL is
// printed and a temporary server on listenAddress waits for the callback. The token
// is saved to cfg.TokenFilePath.
func Login(ctx context.Context, cfg OAuthConfig, listenAddress, callbackPath string) error {
	tok, err := getNewTokenFromWeb(ctx, cfg, listenAddress, callbackPath)
	if err != nil {
		return fmt.Errorf("failed to get new token: %w", err)
	}
	if err := saveTokenToFile(tok, cfg.TokenFilePath); err != nil {
		return fmt.Errorf("failed to save new token: %w", err)
	}
	return nil
}

// getNewTokenFromWeb starts a temporary web server to handle the OAuth2 callback.
func getNewTokenFromWeb(ctx context.Context, cfg OAuthConfig, listenAddress, callbackPath string) (*oauth2.Token, error) {
	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			errChan <- errors.New("did not receive authorization code in callback")
			return
		}
		fmt.Fprintln(w, "Authorization successful! You can close this window.")
		codeChan <- code
	})
	server := &http.Server{
		Addr:              listenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()
	defer func() {
		_ = server.Shutdown(context.WithoutCancel(ctx))
	}()

	oc := cfg.oauth2Config()
	authURL := oc.AuthCodeURL("state-string", oauth2.AccessTypeOffline)
	fmt.Printf("\nPlease open this URL in your browser to authorize the application:\n%s\n\n", authURL)

	var authCode string
	select {
	case code := <-codeChan:
		authCode = code
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(2 * time.Minute):
		return nil, errors.New("authentication timed out")
	}

	tok, err := oc.Exchange(ctx, authCode)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code for token: %w", err)
	}
	return tok, nil
}

// loadTokenFromFile reads an OAuth2 token from a JSON file.
func loadTokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// saveTokenToFile writes an OAuth2 token to a JSON file with secure permissions.
func saveTokenToFile(token *oauth2.Token, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("unable to create token directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache oauth token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// DeleteToken removes the token file from disk.
func DeleteToken(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
