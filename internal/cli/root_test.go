package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/resale/internal/crypto"
)

const testSecret = "cli-test-secret-0123456789"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("RESALE_STORAGE_DRIVER", "memory")
	t.Setenv("RESALE_AUTH_TOKEN_SECRET", testSecret)

	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "resaled", cmd.Use)

	for _, name := range []string{"serve", "migrate", "archive", "token"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	flag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
}

func TestTokenCommandMintsVerifiableToken(t *testing.T) {
	out, err := execute(t, "token", "shop-42", "--role", "pro", "--ttl", "1h")
	require.NoError(t, err)

	signer, err := crypto.NewTokenSigner(testSecret)
	require.NoError(t, err)
	claims, err := signer.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "shop-42", claims.UserID)
	assert.Equal(t, "pro", claims.Role)
}

func TestTokenCommandRejectsBadInput(t *testing.T) {
	_, err := execute(t, "token", "alice", "--role", "admin")
	assert.ErrorContains(t, err, `invalid role "admin"`)

	_, err = execute(t, "token", "alice", "--ttl", "-1m")
	assert.ErrorContains(t, err, "ttl must be positive")

	_, err = execute(t, "token")
	assert.Error(t, err)
}

func TestInvalidConfigFailsBeforeRunning(t *testing.T) {
	t.Setenv("RESALE_LOG_LEVEL", "chatty")
	_, err := execute(t, "token", "alice")
	assert.ErrorContains(t, err, "log_level")
}
