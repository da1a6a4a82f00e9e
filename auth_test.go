package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func signed(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	assert.NoError(t, err)
	return s
}

func TestAuthenticate(t *testing.T) {
	secret := []byte("local-secret")
	var gotSubject string
	h := authenticate(secret, func(w http.ResponseWriter, r *http.Request) {
		gotSubject, _ = r.Context().Value(subjectKey{}).(string)
		w.WriteHeader(http.StatusNoContent)
	})
	valid := signed(t, "local-secret", jwt.SigningMethodHS256, jwt.MapClaims{"sub": "kiosk", "exp": time.Now().Add(time.Hour).Unix()})

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing token", "", "", http.StatusUnauthorized},
		{"valid header", "Bearer " + valid, "", http.StatusNoContent},
		{"valid query", "", "?access_token=" + valid, http.StatusNoContent},
		{"wrong secret", "Bearer " + signed(t, "other", jwt.SigningMethodHS256, jwt.MapClaims{"sub": "kiosk", "exp": time.Now().Add(time.Hour).Unix()}), "", http.StatusUnauthorized},
		{"expired", "Bearer " + signed(t, "local-secret", jwt.SigningMethodHS256, jwt.MapClaims{"sub": "kiosk", "exp": time.Now().Add(-time.Hour).Unix()}), "", http.StatusUnauthorized},
		{"no expiry", "Bearer " + signed(t, "local-secret", jwt.SigningMethodHS256, jwt.MapClaims{"sub": "kiosk"}), "", http.StatusUnauthorized},
		{"no subject", "Bearer " + signed(t, "local-secret", jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}), "", http.StatusUnauthorized},
		{"wrong algorithm", "Bearer " + signed(t, "local-secret", jwt.SigningMethodHS512, jwt.MapClaims{"sub": "kiosk", "exp": time.Now().Add(time.Hour).Unix()}), "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSubject = ""
			req := httptest.NewRequest(http.MethodGet, "/nearby"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusNoContent {
				assert.Equal(t, "kiosk", gotSubject)
			}
		})
	}
}

func TestAuthenticateDisabled(t *testing.T) {
	called := false
	h := authenticate(nil, func(w http.ResponseWriter, r *http.Request) { called = true })
	h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nearby", nil))
	assert.True(t, called)
}
