package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adrg/xdg"
)

func TestConfig(t *testing.T) {

	t.Setenv(WebhookEnv, "")

	config, err := Load("config.example.yaml")
	if err != nil {
		t.Fatal(err)
	}

	if got, want := len(config.Partitions), 2; got != want {
		t.Fatalf("got %d partitions want %d", got, want)
	}
	if got, want := config.Partitions[0].DatabasePath, "./db/astana/database.db"; got != want {
		t.Errorf("got %s want %s", got, want)
	}
	if got, want := config.SyncTimeout, 20*time.Minute; got != want {
		t.Errorf("got sync timeout %v want %v", got, want)
	}
	if config.Bitrix.UseOAuth() {
		t.Error("expected webhook access")
	}
	if got, want := config.Bitrix.DealFields.Prepayment, "Сумма предоплаты"; got != want {
		t.Errorf("got %s want %s", got, want)
	}
}

// writeConfig writes a configuration to a temporary directory, returning its path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigValidation(t *testing.T) {

	tests := []struct {
		name   string
		body   string
		errStr string
	}{
		{
			name:   "no partitions",
			body:   "bitrix:\n  webhook_url: https://x.bitrix24.kz/rest/1/a/\n",
			errStr: "at least one partition",
		},
		{
			name:   "duplicate city",
			body:   "partitions:\n  - city: Астана\n  - city: астана_\nbitrix:\n  webhook_url: https://x.bitrix24.kz/rest/1/a/\n",
			errStr: "more than once",
		},
		{
			name:   "no remote",
			body:   "partitions:\n  - city: Астана\n",
			errStr: "webhook_url or bitrix.portal_url",
		},
		{
			name:   "oauth without secret",
			body:   "partitions:\n  - city: Астана\nbitrix:\n  portal_url: https://x.bitrix24.kz\n  client_id: local.1\n",
			errStr: "client_secret",
		},
		{
			name:   "relative webhook",
			body:   "partitions:\n  - city: Астана\nbitrix:\n  webhook_url: rest/1/a\n",
			errStr: "not an absolute url",
		},
		{
			name:   "bad timeout",
			body:   "sync_timeout: soon\npartitions:\n  - city: Астана\nbitrix:\n  webhook_url: https://x.bitrix24.kz/rest/1/a/\n",
			errStr: "invalid sync_timeout",
		},
	}

	t.Setenv(WebhookEnv, "")
	for ii, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", ii, tt.name), func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.errStr) {
				t.Errorf("got error %q want it to contain %q", err, tt.errStr)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {

	origHome := xdg.DataHome
	xdg.DataHome = t.TempDir()
	defer func() { xdg.DataHome = origHome }()

	t.Setenv(WebhookEnv, "https://env.bitrix24.kz/rest/9/secret/")

	config, err := Load(writeConfig(t, "partitions:\n  - city: Караганда\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := config.Bitrix.WebhookURL, "https://env.bitrix24.kz/rest/9/secret/"; got != want {
		t.Errorf("got webhook %q want %q", got, want)
	}
	if got, want := config.Partitions[0].DatabasePath, filepath.Join(xdg.DataHome, "citycache", "караганда", "database.db"); got != want {
		t.Errorf("got database path %q want %q", got, want)
	}
	if got, want := config.ListenAddress, "127.0.0.1:4800"; got != want {
		t.Errorf("got listen address %q want %q", got, want)
	}
	if got, want := config.Bitrix.DescriptionPlaceholder, "Тут будет описание"; got != want {
		t.Errorf("got placeholder %q want %q", got, want)
	}
}

func TestConfigEnvFile(t *testing.T) {

	t.Setenv(WebhookEnv, "")
	os.Unsetenv(WebhookEnv)

	path := writeConfig(t, "partitions:\n  - city: Астана\n")
	env := WebhookEnv + "=https://dotenv.bitrix24.kz/rest/3/key/\n"
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), ".env"), []byte(env), 0600); err != nil {
		t.Fatal(err)
	}

	config, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := config.Bitrix.WebhookURL, "https://dotenv.bitrix24.kz/rest/3/key/"; got != want {
		t.Errorf("got webhook %q want %q", got, want)
	}
}
