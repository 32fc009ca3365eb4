package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/codewiresh/trakit/internal/auth"
	"github.com/codewiresh/trakit/internal/config"
)

func TestResolveTarget(t *testing.T) {
	t.Setenv("TRAKIT_SESSION", "")
	dirFlag = t.TempDir()
	addressFlag = ""
	loginFlag = false
	t.Cleanup(func() { dirFlag = "" })

	cfg = &config.Config{Environment: config.EnvBeta}
	cfg.Auth.APIKey = "mk"
	cfg.Auth.APISecret = "c2VjcmV0"

	target, cleanup, err := resolveTarget(true)
	if err != nil {
		t.Fatalf("resolveTarget: %v", err)
	}
	defer cleanup()

	if target.Address != config.AddressBeta {
		t.Errorf("Address = %q", target.Address)
	}
	if k, ok := target.Credential.(auth.APIKey); !ok || k.Key != "mk" {
		t.Errorf("Credential = %#v", target.Credential)
	}
	if target.Journal == nil {
		t.Error("journal not opened")
	}
	if target.DataDir != dirFlag {
		t.Errorf("DataDir = %q", target.DataDir)
	}
}

func TestResolveTargetAddressFlag(t *testing.T) {
	dirFlag = t.TempDir()
	addressFlag = "ws://127.0.0.1:9999/"
	t.Cleanup(func() { dirFlag, addressFlag = "", "" })

	cfg = &config.Config{Environment: config.EnvProd}
	cfg.Auth.Username = "ops@example.com"
	cfg.Auth.Password = "pw"

	target, cleanup, err := resolveTarget(false)
	if err != nil {
		t.Fatalf("resolveTarget: %v", err)
	}
	defer cleanup()
	if target.Address != addressFlag {
		t.Errorf("Address = %q", target.Address)
	}
	if target.Journal != nil {
		t.Error("journal opened without being asked")
	}
	if p, ok := target.Credential.(auth.Password); !ok || p.Password != "pw" {
		t.Errorf("Credential = %#v", target.Credential)
	}
}

func TestLoginFlagClearsSession(t *testing.T) {
	t.Setenv("TRAKIT_SESSION", "")
	dirFlag = t.TempDir()
	loginFlag = true
	t.Cleanup(func() { dirFlag, loginFlag = "", false })
	cfg = &config.Config{Environment: config.EnvProd}
	cfg.Auth.APIKey = "mk"

	if err := auth.SaveSession(dirFlag, "0b5b6f0e-8d1c-4c1b-9f0e-7d2f5a4e3c21"); err != nil {
		t.Fatal(err)
	}
	_, cleanup, err := resolveTarget(false)
	if err != nil {
		t.Fatal(err)
	}
	cleanup()
	if _, ok := auth.LoadSession(dirFlag); ok {
		t.Error("session survived --login")
	}
}

func runConfig(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := configCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigSetSaves(t *testing.T) {
	dirFlag = t.TempDir()
	t.Cleanup(func() { dirFlag = "" })
	t.Setenv("TRAKIT_API_KEY", "from-env")

	for _, kv := range [][2]string{
		{"environment", "beta"},
		{"auth.api_secret", "c2VjcmV0"},
		{"journal.enabled", "true"},
		{"metrics.listen", "127.0.0.1:9464"},
	} {
		if _, err := runConfig(t, "set", kv[0], kv[1]); err != nil {
			t.Fatalf("config set %s: %v", kv[0], err)
		}
	}

	c, err := config.ReadFile(dirFlag)
	if err != nil {
		t.Fatal(err)
	}
	if c.Environment != config.EnvBeta || !c.Journal.Enabled || c.Auth.APISecret != "c2VjcmV0" {
		t.Errorf("saved = %+v", c)
	}
	if c.Metrics.Listen == nil || *c.Metrics.Listen != "127.0.0.1:9464" {
		t.Errorf("metrics.listen = %v", c.Metrics.Listen)
	}
	if c.Auth.APIKey != "" {
		t.Errorf("environment override saved: api_key = %q", c.Auth.APIKey)
	}

	out, err := runConfig(t)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "c2VjcmV0") || !strings.Contains(out, "********") {
		t.Errorf("secret not masked:\n%s", out)
	}

	if _, err := runConfig(t, "set", "metrics.listen", ""); err != nil {
		t.Fatal(err)
	}
	if c, _ := config.ReadFile(dirFlag); c.Metrics.Listen != nil {
		t.Errorf("metrics.listen not cleared: %v", *c.Metrics.Listen)
	}
}

func TestConfigSetRejects(t *testing.T) {
	dirFlag = t.TempDir()
	t.Cleanup(func() { dirFlag = "" })

	if _, err := runConfig(t, "set", "colour", "blue"); err == nil {
		t.Error("unknown key accepted")
	}
	if _, err := runConfig(t, "set", "environment", "staging"); err == nil {
		t.Error("invalid environment accepted")
	}
	if _, err := runConfig(t, "set", "journal.enabled", "maybe"); err == nil {
		t.Error("invalid bool accepted")
	}
	if c, _ := config.ReadFile(dirFlag); c.Environment != config.EnvProd {
		t.Errorf("rejected value saved: %+v", c)
	}
}
