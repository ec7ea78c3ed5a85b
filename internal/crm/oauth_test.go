package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// errMockGetRefreshToken is a sentinel error for testing.
var errMockGetRefreshToken = errMock("mock get refresh token error")

// errMock is a simple error type for testing.
type errMock string

// Error implements the error interface.
func (e errMock) Error() string {
	return string(e)
}

// mockTokenStore implements TokenStore for testing.
type mockTokenStore struct {
	getErr       error
	mu           sync.Mutex
	refreshToken string
	saveErr      error
}

// RefreshToken returns the current refresh token.
func (m *mockTokenStore) RefreshToken(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", m.getErr
	}
	return m.refreshToken, nil
}

// SaveRefreshToken saves a new refresh token.
func (m *mockTokenStore) SaveRefreshToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.refreshToken = token
	return nil
}

func TestNewTokenManager(t *testing.T) {
	t.Parallel()

	store := &mockTokenStore{refreshToken: "refresh-token"}
	httpClient := &http.Client{Timeout: 10 * time.Second}

	tm := newTokenManager("client-id", "client-secret", "https://login.example.com/token", store, httpClient)

	require.NotNil(t, tm)
	require.Equal(t, "client-id", tm.clientID)
	require.Equal(t, "client-secret", tm.clientSecret)
	require.Equal(t, "https://login.example.com/token", tm.tokenURL)
	require.Equal(t, store, tm.tokenStore)
	require.Equal(t, httpClient, tm.httpClient)
	require.Empty(t, tm.accessToken)
	require.True(t, tm.expiresAt.IsZero())
}

func TestTokenManager_AccessToken(t *testing.T) {
	t.Parallel()

	t.Run("returns cached token when valid", func(t *testing.T) {
		t.Parallel()

		tm := &tokenManager{
			accessToken: "cached-token",
			expiresAt:   time.Now().Add(30 * time.Minute),
		}

		token, err := tm.AccessToken(context.Background())

		require.NoError(t, err)
		require.Equal(t, "cached-token", token)
	})

	t.Run("refreshes token when expired", func(t *testing.T) {
		t.Parallel()

		server := newMockOAuthServer(t, tokenResponse{
			AccessToken:  "new-access-token",
			RefreshToken: "new-refresh-token",
			TokenType:    "Bearer",
		})
		defer server.Close()

		store := &mockTokenStore{refreshToken: "old-refresh-token"}
		tm := &tokenManager{
			accessToken:  "old-token",
			clientID:     "client-id",
			clientSecret: "client-secret",
			expiresAt:    time.Now().Add(-5 * time.Minute), // Expired.
			httpClient:   server.Client(),
			tokenStore:   store,
			tokenURL:     server.URL,
		}

		token, err := tm.AccessToken(context.Background())

		require.NoError(t, err)
		require.Equal(t, "new-access-token", token)
		require.Equal(t, "new-refresh-token", store.refreshToken)
	})
}

func TestTokenManager_CachedToken(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		accessToken string
		expiresAt   time.Time
		wantOK      bool
		wantToken   string
	}{
		"valid cached token": {
			accessToken: "valid-token",
			expiresAt:   time.Now().Add(30 * time.Minute),
			wantToken:   "valid-token",
			wantOK:      true,
		},
		"empty access token": {
			accessToken: "",
			expiresAt:   time.Now().Add(30 * time.Minute),
			wantOK:      false,
		},
		"expired token": {
			accessToken: "expired-token",
			expiresAt:   time.Now().Add(-5 * time.Minute),
			wantOK:      false,
		},
		"token within expiry buffer": {
			accessToken: "near-expiry-token",
			expiresAt:   time.Now().Add(3 * time.Minute), // Within 5 minute buffer.
			wantOK:      false,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			tm := &tokenManager{
				accessToken: tc.accessToken,
				expiresAt:   tc.expiresAt,
			}

			token, ok := tm.cachedToken()

			require.Equal(t, tc.wantOK, ok)
			require.Equal(t, tc.wantToken, token)
		})
	}
}

func TestTokenManager_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	server := newMockOAuthServer(t, tokenResponse{
		AccessToken:  "concurrent-token",
		RefreshToken: "concurrent-refresh",
		ExpiresIn:    3600,
		TokenType:    "Bearer",
	})
	defer server.Close()

	store := &mockTokenStore{refreshToken: "initial-refresh"}
	tm := newTokenManager("test-client", "test-secret", server.URL, store, server.Client())

	var wg sync.WaitGroup
	tokens := make([]string, 10)
	errs := make([]error, 10)

	for i := range 10 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			tokens[idx], errs[idx] = tm.AccessToken(context.Background())
		}(i)
	}

	wg.Wait()

	for i := range 10 {
		require.NoError(t, errs[i])
		require.Equal(t, "concurrent-token", tokens[i])
	}
}

func TestTokenManager_Invalidate(t *testing.T) {
	t.Parallel()

	tm := &tokenManager{
		accessToken: "token",
		expiresAt:   time.Now().Add(30 * time.Minute),
	}

	tm.invalidate()

	_, ok := tm.cachedToken()
	require.False(t, ok)
	require.True(t, tm.expiresAt.IsZero())
}

func TestTokenManager_RefreshAccessToken(t *testing.T) {
	t.Parallel()

	t.Run("sends refresh grant and saves rotated token", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil ||
				r.PostForm.Get("grant_type") != "refresh_token" ||
				r.PostForm.Get("refresh_token") != "current-refresh" ||
				r.PostForm.Get("client_id") != "test-client" ||
				r.PostForm.Get("client_secret") != "test-secret" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(tokenResponse{
				AccessToken:  "fresh-token",
				RefreshToken: "fresh-refresh",
				ExpiresIn:    7200,
			})
		}))
		defer server.Close()

		store := &mockTokenStore{refreshToken: "current-refresh"}
		tm := newTokenManager("test-client", "test-secret", server.URL, store, server.Client())

		token, err := tm.refreshAccessToken(context.Background())

		require.NoError(t, err)
		require.Equal(t, "fresh-token", token)
		require.Equal(t, "fresh-refresh", store.refreshToken)
		require.WithinDuration(t, time.Now().Add(2*time.Hour), tm.expiresAt, 5*time.Second)
	})

	t.Run("uses default duration when expires_in is absent", func(t *testing.T) {
		t.Parallel()

		server := newMockOAuthServer(t, tokenResponse{AccessToken: "token-no-expiry"})
		defer server.Close()

		store := &mockTokenStore{refreshToken: "current-refresh"}
		tm := newTokenManager("test-client", "test-secret", server.URL, store, server.Client())

		token, err := tm.refreshAccessToken(context.Background())

		require.NoError(t, err)
		require.Equal(t, "token-no-expiry", token)
		require.WithinDuration(t, time.Now().Add(defaultTokenDuration), tm.expiresAt, 5*time.Second)
		// No rotated token, so the stored one is kept.
		require.Equal(t, "current-refresh", store.refreshToken)
	})

	t.Run("error when token store fails to get refresh token", func(t *testing.T) {
		t.Parallel()

		store := &mockTokenStore{getErr: errMockGetRefreshToken}
		tm := newTokenManager("test-client", "test-secret", "http://unused", store, &http.Client{})

		_, err := tm.refreshAccessToken(context.Background())

		require.Error(t, err)
		require.ErrorIs(t, err, errMockGetRefreshToken)
		require.Contains(t, err.Error(), "getting refresh token")
	})

	t.Run("error when saving rotated token fails", func(t *testing.T) {
		t.Parallel()

		server := newMockOAuthServer(t, tokenResponse{AccessToken: "a", RefreshToken: "rotated"})
		defer server.Close()

		store := &mockTokenStore{refreshToken: "current", saveErr: errMock("disk full")}
		tm := newTokenManager("test-client", "test-secret", server.URL, store, server.Client())

		_, err := tm.refreshAccessToken(context.Background())

		require.Error(t, err)
		require.Contains(t, err.Error(), "saving refresh token")
	})

	t.Run("error on non-200 response", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": "invalid_grant"}`))
		}))
		defer server.Close()

		store := &mockTokenStore{refreshToken: "bad-refresh"}
		tm := newTokenManager("test-client", "test-secret", server.URL, store, server.Client())

		_, err := tm.refreshAccessToken(context.Background())

		require.Error(t, err)
		require.Contains(t, err.Error(), "token refresh failed with status 400")
	})
}

// newMockOAuthServer creates a test server that responds with the given token response.
func newMockOAuthServer(t *testing.T, resp tokenResponse) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}))
}
