// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/agencyops/mailflow/internal/models"
)

// TokenCache holds one reusable client-credentials token source per
// XOAUTH2 identity. Its lifetime is the process; tests call Reset.
type TokenCache struct {
	httpClient *http.Client

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewTokenCache creates an empty token cache. A nil httpClient uses the
// oauth2 default client.
func NewTokenCache(httpClient *http.Client) *TokenCache {
	return &TokenCache{
		httpClient: httpClient,
		sources:    make(map[string]oauth2.TokenSource),
	}
}

// AccessToken returns a valid access token for ident, fetching a new one
// only when the cached token has expired.
func (c *TokenCache) AccessToken(ident *models.MailIdentity) (string, error) {
	if ident.OAuthTokenURL == "" || ident.OAuthClientID == "" {
		return "", fmt.Errorf("identity %d: XOAUTH2 requires token URL and client id", ident.ID)
	}

	tok, err := c.source(ident).Token()
	if err != nil {
		return "", fmt.Errorf("fetch token for identity %d: %w", ident.ID, err)
	}
	return tok.AccessToken, nil
}

// Reset forgets every cached token source.
func (c *TokenCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = make(map[string]oauth2.TokenSource)
}

func (c *TokenCache) source(ident *models.MailIdentity) oauth2.TokenSource {
	// Credentials are part of the key so an edited identity gets a fresh source.
	key := fmt.Sprintf("%d|%s|%s|%s|%s", ident.ID, ident.OAuthTokenURL, ident.OAuthClientID,
		ident.OAuthClientSecret, strings.Join(ident.OAuthScopes, " "))

	c.mu.Lock()
	defer c.mu.Unlock()

	if src, ok := c.sources[key]; ok {
		return src
	}

	cfg := &clientcredentials.Config{
		ClientID:     ident.OAuthClientID,
		ClientSecret: ident.OAuthClientSecret,
		TokenURL:     ident.OAuthTokenURL,
		Scopes:       ident.OAuthScopes,
	}

	// The source outlives any single request, so it gets its own context.
	ctx := context.Background()
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}

	src := cfg.TokenSource(ctx)
	c.sources[key] = src
	return src
}
