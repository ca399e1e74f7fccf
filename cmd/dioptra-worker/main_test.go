package main

import (
	"reflect"
	"testing"
	"time"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DIOPTRA_PLUGIN_DIR", "/var/dioptra/plugins")
	t.Setenv("DIOPTRA_PLUGINS_S3_URI", "s3://plugins/dioptra_builtins")
	t.Setenv("DIOPTRA_CUSTOM_PLUGINS_S3_URI", "s3://plugins/dioptra_custom")
	t.Setenv("DIOPTRA_STOP_POLL_INTERVAL", "5s")

	cfg, err := configFromEnv()
	if err != nil {
		t.Fatalf("configFromEnv: %v", err)
	}
	if cfg.PluginDir != "/var/dioptra/plugins" {
		t.Fatalf("PluginDir = %q", cfg.PluginDir)
	}
	if cfg.PluginsURI.Bucket != "plugins" || cfg.PluginsURI.Prefix != "dioptra_builtins" {
		t.Fatalf("PluginsURI = %+v", cfg.PluginsURI)
	}
	if cfg.CustomPluginsURI == nil || cfg.CustomPluginsURI.Prefix != "dioptra_custom" {
		t.Fatalf("CustomPluginsURI = %+v", cfg.CustomPluginsURI)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("PollInterval = %v, want 5s", cfg.PollInterval)
	}
	if cfg.RunnerBin != "dioptra-run" {
		t.Fatalf("RunnerBin = %q, want default dioptra-run", cfg.RunnerBin)
	}
}

func TestConfigFromEnvCustomTreeOptional(t *testing.T) {
	t.Setenv("DIOPTRA_PLUGIN_DIR", "/var/dioptra/plugins")
	t.Setenv("DIOPTRA_PLUGINS_S3_URI", "s3://plugins/dioptra_builtins")
	t.Setenv("DIOPTRA_CUSTOM_PLUGINS_S3_URI", "")

	cfg, err := configFromEnv()
	if err != nil {
		t.Fatalf("configFromEnv: %v", err)
	}
	if cfg.CustomPluginsURI != nil {
		t.Fatalf("CustomPluginsURI = %+v, want nil", cfg.CustomPluginsURI)
	}
}

func TestConfigFromEnvRequiresPluginDir(t *testing.T) {
	t.Setenv("DIOPTRA_PLUGIN_DIR", "")
	t.Setenv("DIOPTRA_PLUGINS_S3_URI", "s3://plugins/dioptra_builtins")
	if _, err := configFromEnv(); err == nil {
		t.Fatal("expected error when plugin dir is unset")
	}
}

func TestConfigFromEnvRejectsBadURI(t *testing.T) {
	t.Setenv("DIOPTRA_PLUGIN_DIR", "/var/dioptra/plugins")
	t.Setenv("DIOPTRA_PLUGINS_S3_URI", "http://plugins/x")
	if _, err := configFromEnv(); err == nil {
		t.Fatal("expected error for non-s3 URI")
	}
}

func TestChildArgs(t *testing.T) {
	opts := &options{
		params:   []string{"epochs=10", "verbose"},
		logLevel: "debug",
	}
	got := childArgs("mnist.yml", "run-1", opts)
	want := []string{
		"mnist.yml", "--run-id", "run-1", "--log-level", "debug",
		"-P", "epochs=10", "-P", "verbose",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("args = %v, want %v", got, want)
	}
}
