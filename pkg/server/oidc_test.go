package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"
)

const testAudience = "test-audience"

// setupOIDCTest starts a minimal OIDC issuer and returns a verifier for it
// along with a function minting ID tokens for an email.
func setupOIDCTest(t *testing.T) (tokenVerifier, func(email string) string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                srv.URL,
			"authorization_endpoint":                srv.URL + "/auth",
			"token_endpoint":                        srv.URL + "/token",
			"jwks_uri":                              srv.URL + "/keys",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &priv.PublicKey,
			KeyID:     "test",
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}}})
	})

	provider, err := oidc.NewProvider(context.Background(), srv.URL)
	require.NoError(t, err)
	verifier := provider.Verifier(&oidc.Config{ClientID: testAudience}).Verify

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: jose.JSONWebKey{Key: priv, KeyID: "test", Algorithm: string(jose.RS256)}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)

	mint := func(email string) string {
		now := time.Now()
		payload, err := json.Marshal(map[string]any{
			"iss":            srv.URL,
			"aud":            testAudience,
			"sub":            "sub-" + email,
			"email":          email,
			"email_verified": true,
			"iat":            now.Unix(),
			"exp":            now.Add(time.Hour).Unix(),
		})
		require.NoError(t, err)
		sig, err := signer.Sign(payload)
		require.NoError(t, err)
		raw, err := sig.CompactSerialize()
		require.NoError(t, err)
		return raw
	}
	return verifier, mint
}
