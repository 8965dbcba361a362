package main

import (
	"strings"
	"testing"
	"time"

	"github.com/gurre/cognito-profile/config"
	"github.com/gurre/cognito-profile/profile"
)

func TestParseFlagsOverridesEnvironment(t *testing.T) {
	cfg := &config.Config{TableName: "from-env", Region: "us-east-1", LogLevel: "info", Timeout: 30 * time.Second}

	opts, err := parseFlags("update", []string{"-table", "from-flag", "-timeout", "5s", "-name", "", "-report"}, cfg)
	if err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}
	if cfg.TableName != "from-flag" {
		t.Errorf("expected flag to override table, got %q", cfg.TableName)
	}
	if cfg.Region != "us-east-1" {
		t.Errorf("expected region from environment, got %q", cfg.Region)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", cfg.Timeout)
	}
	if !opts.report {
		t.Error("expected report flag")
	}
	if !opts.nameSet {
		t.Error("an explicitly empty name must count as set")
	}
}

func TestParseFlagsRejectsUnknown(t *testing.T) {
	if _, err := parseFlags("delete", nil, &config.Config{}); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("expected unknown command error, got %v", err)
	}
	if _, err := parseFlags("signout", []string{"-name", "x"}, &config.Config{}); err == nil {
		t.Error("expected error for flag not defined on signout")
	}
}

func TestProfileData(t *testing.T) {
	c := &commands{opts: &options{}}
	data, err := c.profileData()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data.Name != nil || data.Image != nil {
		t.Errorf("expected empty data, got %+v", data)
	}

	c.opts.image = "/does/not/exist.jpg"
	if _, err := c.profileData(); err == nil {
		t.Error("expected error for missing image file")
	}
}

func TestViewOf(t *testing.T) {
	if viewOf(nil) != nil {
		t.Error("expected nil view for nil profile")
	}
	name := "Alice"
	v := viewOf(&profile.Profile{IdentityID: "abc123", Name: &name, Image: make([]byte, 42)})
	if v.IdentityID != "abc123" || *v.Name != "Alice" || v.ImageBytes != 42 {
		t.Errorf("unexpected view: %+v", v)
	}
}

func TestDefaultDeviceStore(t *testing.T) {
	uri := defaultDeviceStore()
	if !strings.HasPrefix(uri, "bolt:///") || !strings.HasSuffix(uri, "/profilectl/device.db") {
		t.Errorf("unexpected default device store %q", uri)
	}
}
