package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestNewJWTVerifier(t *testing.T) {
	_, err := NewJWTVerifier([]byte("short"), "genjobs")
	require.Error(t, err)

	_, err = NewJWTVerifier(testSecret, "")
	require.Error(t, err)

	_, err = NewJWTVerifier(testSecret, "genjobs")
	require.NoError(t, err)
}

func TestJWTVerifier_Verify(t *testing.T) {
	v, err := NewJWTVerifier(testSecret, "genjobs")
	require.NoError(t, err)

	valid, err := IssueToken(testSecret, "genjobs", "user-1", []string{"editor"}, time.Hour)
	require.NoError(t, err)

	expired, err := IssueToken(testSecret, "genjobs", "user-1", nil, -time.Hour)
	require.NoError(t, err)

	wrongAudience, err := IssueToken(testSecret, "other", "user-1", nil, time.Hour)
	require.NoError(t, err)

	wrongSecret, err := IssueToken([]byte("ffffffffffffffffffffffffffffffff"), "genjobs", "user-1", nil, time.Hour)
	require.NoError(t, err)

	noSubject, err := IssueToken(testSecret, "genjobs", "", nil, time.Hour)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:  "user-1",
		Audience: jwt.ClaimStrings{"genjobs"},
	}).SignedString(testSecret)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "valid", token: valid},
		{name: "expired", token: expired, wantErr: true},
		{name: "wrong audience", token: wrongAudience, wantErr: true},
		{name: "wrong secret", token: wrongSecret, wantErr: true},
		{name: "no subject", token: noSubject, wantErr: true},
		{name: "no expiry", token: noExpiry, wantErr: true},
		{name: "garbage", token: "not.a.jwt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			principal, err := v.Verify(tt.token)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "user-1", principal.Subject)
			require.Equal(t, []string{"editor"}, principal.Roles)
		})
	}
}

func TestJWTVerifier_Middleware(t *testing.T) {
	v, err := NewJWTVerifier(testSecret, "genjobs")
	require.NoError(t, err)

	token, err := IssueToken(testSecret, "genjobs", "user-1", nil, time.Hour)
	require.NoError(t, err)

	var subject string
	handler := v.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = PrincipalFromContext(r.Context()).Subject
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name     string
		setup    func(r *http.Request)
		target   string
		expected int
	}{
		{
			name:     "bearer header",
			target:   "/api/jobs",
			setup:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) },
			expected: http.StatusOK,
		},
		{
			name:     "lowercase scheme",
			target:   "/api/jobs",
			setup:    func(r *http.Request) { r.Header.Set("Authorization", "bearer "+token) },
			expected: http.StatusOK,
		},
		{
			name:     "query parameter",
			target:   "/api/jobs?access_token=" + token,
			expected: http.StatusOK,
		},
		{
			name:     "missing",
			target:   "/api/jobs",
			expected: http.StatusUnauthorized,
		},
		{
			name:     "basic auth is not accepted",
			target:   "/api/jobs",
			setup:    func(r *http.Request) { r.SetBasicAuth("user", "pass") },
			expected: http.StatusUnauthorized,
		},
		{
			name:     "invalid token",
			target:   "/api/jobs",
			setup:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") },
			expected: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject = ""
			r := httptest.NewRequest(http.MethodPost, tt.target, nil)
			if tt.setup != nil {
				tt.setup(r)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			require.Equal(t, tt.expected, w.Code)
			if tt.expected == http.StatusOK {
				require.Equal(t, "user-1", subject)
			}
		})
	}

	require.Nil(t, PrincipalFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}
