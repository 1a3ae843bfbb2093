package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"guichet/internal/config"
	"guichet/internal/platform"
	"guichet/internal/testing/mock"
)

const (
	testEmail    = "ada@example.fr"
	testPassword = "correct horse"
)

// cliEnv is a config directory pointing at a mock provider, with a browser
// that approves every authorization request.
type cliEnv struct {
	idp      *mock.Provider
	dir      string
	launcher *mock.BrowserLauncher
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	idp := mock.NewProvider(t, mock.ProviderConfig{
		ClientID: "guichet",
		Username: testEmail,
		Password: testPassword,
	})
	dir := t.TempDir()

	yaml := fmt.Sprintf(`environment: production
oauth:
  baseURL: %s
  clientID: guichet
api:
  baseURL: %s
storage:
  backend: file
logLevel: debug
`, idp.OAuthBaseURL(), idp.APIBaseURL())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0600))

	env := &cliEnv{idp: idp, dir: dir, launcher: &mock.BrowserLauncher{Provider: idp}}

	origLauncher, origLine, origPassword := newLauncher, promptLine, promptPassword
	newLauncher = func(cfg config.Config, _ io.Writer) platform.Launcher {
		if platform.Resolve(cfg) == platform.Web {
			return platform.RedirectLauncher{}
		}
		return env.launcher
	}
	promptLine = func(string) (string, error) {
		t.Error("unexpected prompt")
		return "", nil
	}
	promptPassword = func(string) (string, error) { return testPassword, nil }
	t.Cleanup(func() {
		newLauncher, promptLine, promptPassword = origLauncher, origLine, origPassword
	})

	return env
}

func resetFlags() {
	configPath, environment, logLevel, storageBackend = "", "", "", ""
	quiet = false
	loginWithPassword, loginEmail = false, ""
	serveListen, servePublicURL = "", ""
}

// run executes the root command against the environment's config directory.
func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.runContext(context.Background(), args...)
}

func (e *cliEnv) runContext(ctx context.Context, args ...string) (string, error) {
	resetFlags()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append(args, "--config-path", e.dir))

	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

// mustRun fails the test when the command fails.
func (e *cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	require.NoError(t, err, "guichet %v", args)
	return out
}
