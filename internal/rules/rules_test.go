package rules_test

import (
	"os"
	"path/filepath"
	"testing"

	"go-creator-archiver/internal/rules"
)

func TestRules_LoadNormalizes(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "rules.yaml")
	body := `
mirror:
  origin: https://mirror.example.org/
custom:
  origin: http://127.0.0.1:8080
  api_base: http://127.0.0.1:8080/api/
  content_images: "img@data-src||img@src"
  fallback_marker: party
`
	_ = os.WriteFile(f, []byte(body), 0644)
	r, err := rules.Load(f)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	m, ok := r.GetPreset("MIRROR")
	if !ok {
		t.Fatalf("case-insensitive lookup failed")
	}
	if m.Origin != "https://mirror.example.org" || m.APIBase != "https://mirror.example.org/api/v1" {
		t.Fatalf("mirror defaults: %+v", m)
	}
	if m.ContentImages != "img@src" || m.FallbackMarker != "mirror" {
		t.Fatalf("mirror derived fields: %+v", m)
	}
	c, _ := r.GetPreset("custom")
	if c.APIBase != "http://127.0.0.1:8080/api" || c.FallbackMarker != "party" {
		t.Fatalf("custom preset: %+v", c)
	}
}

func TestRules_LoadRejectsBadOrigin(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "rules.yaml")
	_ = os.WriteFile(f, []byte("bad:\n  origin: not a url\n"), 0644)
	if _, err := rules.Load(f); err == nil {
		t.Fatalf("expect error for origin without host")
	}
}

func TestRules_ForURL(t *testing.T) {
	r := rules.Builtin()
	p, ok := r.ForURL("https://kemono.su/patreon/user/1")
	if !ok || p.FallbackMarker != "kemono" {
		t.Fatalf("kemono not matched: %+v", p)
	}
	if p, ok := r.ForURL("https://www.coomer.su/onlyfans/user/x"); !ok || p.FallbackMarker != "coomer" {
		t.Fatalf("subdomain not matched: %+v", p)
	}
	if _, ok := r.ForURL("https://example.com/patreon/user/1"); ok {
		t.Fatalf("unknown host should not match")
	}
	if _, ok := r.ForURL("::"); ok {
		t.Fatalf("garbage should not match")
	}
}
