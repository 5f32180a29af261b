package cmd

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	httpapi "github.com/globetrotter/auth-service/internal/api/http"
	"github.com/globetrotter/auth-service/internal/auth"
	"github.com/globetrotter/auth-service/internal/client"
	"github.com/globetrotter/auth-service/internal/config"
	"github.com/globetrotter/auth-service/internal/repository"
	"github.com/globetrotter/auth-service/internal/service"
)

func newAPI(t *testing.T) string {
	t.Helper()
	users := repository.NewMemoryUserRepository()
	tokens := auth.NewTokenManager("secret", time.Hour)
	svc := service.NewAuthService(config.AuthConfig{BcryptCost: bcrypt.MinCost}, service.AuthDependencies{UserRepo: users, Tokens: tokens})
	app := httpapi.NewApp(httpapi.ServerDeps{
		AuthService:    svc,
		AuthMiddleware: auth.NewAuthMiddleware(tokens, users, auth.WithRefreshGrace(time.Hour)),
	})
	srv := httptest.NewServer(adaptor.FiberApp(app))
	t.Cleanup(srv.Close)
	return srv.URL
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestSessionCommands(t *testing.T) {
	url := newAPI(t)
	store := filepath.Join(t.TempDir(), "session.db")
	common := []string{"--api-url", url, "--store", store}

	_, _, err := run(t, append([]string{"me"}, common...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")

	out, _, err := run(t, append([]string{"register", "-e", "ada@example.com", "-p", "secret1", "--first-name", "Ada", "--last-name", "Lovelace"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as Ada Lovelace <ada@example.com> (traveller)")

	out, _, err = run(t, append([]string{"me"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, `"email": "ada@example.com"`)

	out, _, err = run(t, append([]string{"refresh"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Session renewed")

	out, _, err = run(t, append([]string{"password", "change", "-p", "secret1", "--new-password", "secret2"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Password changed.")

	out, _, err = run(t, append([]string{"password", "reset", "-e", "ada@example.com"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "reset token is on its way")

	_, stderr, err := run(t, append([]string{"logout"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Logged out.")

	_, _, err = run(t, append([]string{"login", "-e", "ada@example.com", "-p", "secret1"}, common...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_CREDENTIALS")

	out, _, err = run(t, append([]string{"login", "-e", "ada@example.com", "-p", "secret2"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as")
}

func TestDescribe(t *testing.T) {
	err := describe(&client.APIError{Code: "VALIDATION_ERROR", Message: "invalid", Details: map[string]any{"email": "bad"}})
	assert.Equal(t, "VALIDATION_ERROR: invalid\n  email: bad", err.Error())

	other := errors.New("boom")
	assert.Equal(t, "cannot reach "+apiURL+": boom", describe(other).Error())
}

func TestTerminalNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := terminalNotifier{out: &buf}
	n.SessionEnded(client.ReasonRemoteLogout)
	n.SessionEnded("TOKEN_REVOKED")
	n.Warn("slow")
	assert.Equal(t, "Session ended from another terminal.\nSession ended (TOKEN_REVOKED). Please log in again.\nWarning: slow\n", buf.String())
}
