package config

import (
	"testing"
)

func TestResolveHost(t *testing.T) {
	tests := []struct {
		input    string
		inDocker bool
		expected string
	}{
		{"mydb.example.com", true, "mydb.example.com"},
		{"192.168.1.100", true, "192.168.1.100"},
		{"localhost", true, "host.docker.internal"},
		{"127.0.0.1", true, "host.docker.internal"},
		{"localhost", false, "localhost"},
		{"", true, ""},
	}

	for _, tt := range tests {
		if got := resolveHost(tt.input, tt.inDocker); got != tt.expected {
			t.Errorf("resolveHost(%q, %v) = %q, want %q", tt.input, tt.inDocker, got, tt.expected)
		}
	}
}

func TestResolveHostForDocker_KeepsRemoteHosts(t *testing.T) {
	for _, host := range []string{"mydb.example.com", "host.docker.internal"} {
		if got := ResolveHostForDocker(host); got != host {
			t.Errorf("ResolveHostForDocker(%q) = %q, want unchanged", host, got)
		}
	}
}

func TestApplyDockerHosts(t *testing.T) {
	cfg := &Config{
		Database:  DatabaseConfig{Host: "localhost"},
		Redis:     RedisConfig{Host: "cache.internal"},
		Artifacts: ArtifactsConfig{MinIO: MinIOConfig{Endpoint: "127.0.0.1:9000"}},
		OCR:       OCRConfig{Endpoint: "http://localhost:11434/v1"},
	}

	cfg.applyDockerHosts(true)

	if cfg.Database.Host != "host.docker.internal" {
		t.Errorf("database host = %q", cfg.Database.Host)
	}
	if cfg.Redis.Host != "cache.internal" {
		t.Errorf("redis host = %q", cfg.Redis.Host)
	}
	if cfg.Artifacts.MinIO.Endpoint != "host.docker.internal:9000" {
		t.Errorf("minio endpoint = %q", cfg.Artifacts.MinIO.Endpoint)
	}
	if cfg.OCR.Endpoint != "http://host.docker.internal:11434/v1" {
		t.Errorf("ocr endpoint = %q", cfg.OCR.Endpoint)
	}
}

func TestApplyDockerHosts_OutsideDocker(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Host: "localhost"},
		OCR:      OCRConfig{Endpoint: "http://localhost:11434/v1"},
	}

	cfg.applyDockerHosts(false)

	if cfg.Database.Host != "localhost" {
		t.Errorf("database host = %q", cfg.Database.Host)
	}
	if cfg.OCR.Endpoint != "http://localhost:11434/v1" {
		t.Errorf("ocr endpoint = %q", cfg.OCR.Endpoint)
	}
}
