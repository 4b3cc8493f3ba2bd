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
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/agencyops/mailflow/internal/models"
)

func tokenServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if gt := r.PostForm.Get("grant_type"); gt != "client_credentials" {
			t.Errorf("grant_type = %q, want client_credentials", gt)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-abc","token_type":"bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestTokenCache_ReusesToken verifies a valid token is fetched only once.
func TestTokenCache_ReusesToken(t *testing.T) {
	var hits int32
	srv := tokenServer(t, &hits)
	cache := NewTokenCache(srv.Client())

	ident := &models.MailIdentity{
		ID:                1,
		AuthMethod:        models.AuthXOAuth2,
		OAuthTokenURL:     srv.URL,
		OAuthClientID:     "client",
		OAuthClientSecret: "secret",
	}

	for i := 0; i < 3; i++ {
		tok, err := cache.AccessToken(ident)
		if err != nil {
			t.Fatalf("AccessToken: %v", err)
		}
		if tok != "tok-abc" {
			t.Errorf("token = %q, want tok-abc", tok)
		}
	}

	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("token endpoint hits = %d, want 1", n)
	}

	cache.Reset()
	if _, err := cache.AccessToken(ident); err != nil {
		t.Fatalf("AccessToken after reset: %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Errorf("token endpoint hits after reset = %d, want 2", n)
	}
}

// TestTokenCache_MissingConfig verifies incomplete identities are rejected.
func TestTokenCache_MissingConfig(t *testing.T) {
	cache := NewTokenCache(nil)
	if _, err := cache.AccessToken(&models.MailIdentity{ID: 2}); err == nil {
		t.Error("expected error for identity without token URL")
	}
}
