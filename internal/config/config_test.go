package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go-creator-archiver/internal/config"
)

func TestConfig_DefaultsAndValidate(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "c.yaml")
	// Minimal valid config
	_ = os.WriteFile(f, []byte("SAVE_DIR: "+filepath.Join(dir, "dl")+"\nSIMPLE_MODE: true\n"), 0644)
	c, err := config.Load(f)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Concurrency.Download != 5 || c.Retry.Attempts != 5 || c.Retry.Delay.Duration != 3*time.Second {
		t.Fatalf("defaults not applied: %+v %+v", c.Concurrency, c.Retry)
	}
	if c.Pagination.PageSize != 50 || c.Pagination.MaxPages != 200 {
		t.Fatalf("pagination defaults: %+v", c.Pagination)
	}
	if c.Ledger.Type != "json" || c.Ledger.Path != filepath.Join(dir, "Other Files", "file_hashes.json") {
		t.Fatalf("ledger defaults: %+v", c.Ledger)
	}
	main, att, content := c.Categories.Enabled()
	if !main || !att || !content {
		t.Fatalf("categories should default to enabled")
	}
	if c.LogFormat == "" || c.LogLocale == "" || c.LogColor == "" {
		t.Fatalf("log defaults missing")
	}
}

func TestConfig_DurationsAndCategories(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "c.yaml")
	body := `
EXTENSIONS: [jpg, png]
CATEGORIES:
  attachments: false
RETRY:
  attempts: 2
  delay: 250ms
PAGINATION:
  interval: 1s
  fetch_details: false
`
	_ = os.WriteFile(f, []byte(body), 0644)
	c, err := config.Load(f)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Retry.Delay.Duration != 250*time.Millisecond || c.Pagination.Interval.Duration != time.Second {
		t.Fatalf("durations: %v %v", c.Retry.Delay, c.Pagination.Interval)
	}
	if _, att, _ := c.Categories.Enabled(); att {
		t.Fatalf("attachments should be disabled")
	}
	if c.Pagination.FetchDetailsEnabled() {
		t.Fatalf("fetch_details should be disabled")
	}
	if len(c.Extensions) != 2 {
		t.Fatalf("extensions = %v", c.Extensions)
	}
}

func TestConfig_TOML(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "settings.toml")
	body := `
SAVE_DIR = "/tmp/archive"
LOG_LOCALE = "en"

[CONCURRENCY]
download = 12

[RETRY]
delay = "2s"
`
	_ = os.WriteFile(f, []byte(body), 0644)
	c, err := config.Load(f)
	if err != nil {
		t.Fatalf("load toml: %v", err)
	}
	if c.SaveDir != "/tmp/archive" || c.Concurrency.Download != 12 || c.Retry.Delay.Duration != 2*time.Second {
		t.Fatalf("toml values not applied: %+v", c)
	}
}

func TestConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "c.yaml")
	cases := []string{
		"CONCURRENCY:\n  download: 21\n",
		"CONCURRENCY:\n  download: -1\n",
		"RETRY:\n  attempts: -2\n",
		"LEDGER:\n  type: redis\n",
		"LEDGER:\n  type: sqlite\nSIMPLE_MODE: true\n",
		"RETRY:\n  delay: soon\n",
	}
	for _, body := range cases {
		_ = os.WriteFile(f, []byte(body), 0644)
		if _, err := config.Load(f); err == nil {
			t.Fatalf("expect error for %q", body)
		}
	}
}
