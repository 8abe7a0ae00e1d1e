package bootstrapping

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rupali59/docbridge/pkg/failure"
)

var configKeys = []string{
	"APP_ENV", "DOCBRIDGE_BACKEND", "DOCBRIDGE_CREDENTIALS_PATH", "GOOGLE_APPLICATION_CREDENTIALS",
	"DB_THREAD_POOL_SIZE", "DB_MAX_EXECUTION_TIME", "DB_SEND_TIMEOUT", "WATCH_SETUP_TIMEOUT",
	"WATCH_MAX_ACTIVE", "WATCH_MAX_PENDING", "BADGER_DIR", "PORT", "DOCBRIDGE_DEBUG",
}

// clearEnv blanks every key LoadConfig reads. t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOCBRIDGE_BACKEND", "memory")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, 2*runtime.NumCPU(), cfg.PoolSize)
	assert.True(t, cfg.PoolSizeDefaulted)
	assert.Equal(t, 30*time.Second, cfg.MaxExecutionTime)
	assert.Equal(t, 59*time.Second, cfg.SendTimeout)
	assert.Equal(t, 10*time.Second, cfg.WatchSetupTimeout)
	assert.Equal(t, 256, cfg.WatchMaxActive)
	assert.Equal(t, 10000, cfg.WatchMaxPending)
	assert.Equal(t, "8080", cfg.Port)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOCBRIDGE_BACKEND", "BADGER")
	t.Setenv("DB_THREAD_POOL_SIZE", "3")
	t.Setenv("DB_MAX_EXECUTION_TIME", "1500")
	t.Setenv("DB_SEND_TIMEOUT", "2s")
	t.Setenv("APP_ENV", "production")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, BackendBadger, cfg.Backend)
	assert.Equal(t, 3, cfg.PoolSize)
	assert.False(t, cfg.PoolSizeDefaulted)
	assert.Equal(t, 1500*time.Millisecond, cfg.MaxExecutionTime)
	assert.Equal(t, 2*time.Second, cfg.SendTimeout)
	assert.True(t, cfg.IsProduction())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	creds := filepath.Join(dir, "key.json")
	require.NoError(t, os.WriteFile(creds, []byte(`{}`), 0o600))
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DOCBRIDGE_BACKEND=firestore\nDOCBRIDGE_CREDENTIALS_PATH="+creds+"\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("DOCBRIDGE_BACKEND")
		os.Unsetenv("DOCBRIDGE_CREDENTIALS_PATH")
	})
	// godotenv does not override variables already present, so drop the blanks.
	os.Unsetenv("DOCBRIDGE_BACKEND")
	os.Unsetenv("DOCBRIDGE_CREDENTIALS_PATH")

	cfg, err := LoadConfig(envFile)
	require.NoError(t, err)
	assert.Equal(t, BackendFirestore, cfg.Backend)
	assert.Equal(t, creds, cfg.CredentialsPath)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing credentials", map[string]string{"DOCBRIDGE_BACKEND": "firestore"}},
		{"credentials file absent", map[string]string{"DOCBRIDGE_BACKEND": "mongodb", "DOCBRIDGE_CREDENTIALS_PATH": "/nonexistent/creds.env"}},
		{"unknown backend", map[string]string{"DOCBRIDGE_BACKEND": "cassandra"}},
		{"bad pool size", map[string]string{"DOCBRIDGE_BACKEND": "memory", "DB_THREAD_POOL_SIZE": "many"}},
		{"zero pool size", map[string]string{"DOCBRIDGE_BACKEND": "memory", "DB_THREAD_POOL_SIZE": "0"}},
		{"bad duration", map[string]string{"DOCBRIDGE_BACKEND": "memory", "DB_SEND_TIMEOUT": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig("")
			require.Error(t, err)
			assert.ErrorIs(t, err, failure.ErrConfig)
		})
	}
}

func TestRequire(t *testing.T) {
	clearEnv(t)
	r, err := NewConfigResolver("")
	require.NoError(t, err)

	_, err = r.Require("PORT")
	assert.ErrorIs(t, err, failure.ErrConfig)

	t.Setenv("PORT", "9090")
	v, err := r.Require("PORT")
	require.NoError(t, err)
	assert.Equal(t, "9090", v)
}

func TestBootstrapperRunsHooksInOrder(t *testing.T) {
	b := NewBootstrapper(nil)
	var order []string
	b.RegisterHook(func(context.Context) error { order = append(order, "a"); return nil })
	b.RegisterHook(func(context.Context) error { order = append(order, "b"); return nil })
	b.OnShutdown(func(context.Context) error { order = append(order, "close-a"); return nil })
	b.OnShutdown(func(context.Context) error { order = append(order, "close-b"); return nil })

	ctx, stop, err := b.Run(context.Background())
	require.NoError(t, err)
	stop()
	<-ctx.Done()
	b.Shutdown(context.Background())

	assert.Equal(t, []string{"a", "b", "close-b", "close-a"}, order)
}

func TestBootstrapperHookFailure(t *testing.T) {
	b := NewBootstrapper(nil)
	cleaned := false
	b.RegisterHook(func(context.Context) error {
		b.OnShutdown(func(context.Context) error { cleaned = true; return nil })
		return nil
	})
	b.RegisterHook(func(context.Context) error { return errors.New("store unreachable") })
	reached := false
	b.RegisterHook(func(context.Context) error { reached = true; return nil })

	_, _, err := b.Run(context.Background())
	assert.EqualError(t, err, "boot hook 1: store unreachable")
	assert.True(t, cleaned)
	assert.False(t, reached)
}
