/*
 * Copyright 2026 the turnstile authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import "testing"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TURNSTILE_SOCKET",
		"TURNSTILE_DEVICE",
		"TURNSTILE_REGION_SIZE",
		"TURNSTILE_DEBUG",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SocketPath != DefaultSocketPath {
		t.Errorf("SocketPath = %q, want %q", cfg.SocketPath, DefaultSocketPath)
	}
	if cfg.DeviceName != DefaultDeviceName {
		t.Errorf("DeviceName = %q, want %q", cfg.DeviceName, DefaultDeviceName)
	}
	if cfg.RegionSize != DefaultRegionSize {
		t.Errorf("RegionSize = %d, want %d", cfg.RegionSize, DefaultRegionSize)
	}
	if cfg.Debug {
		t.Error("Debug = true by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TURNSTILE_SOCKET", "/run/turnstile/ctl.sock")
	t.Setenv("TURNSTILE_DEVICE", "dmapp1")
	t.Setenv("TURNSTILE_REGION_SIZE", "4096")
	t.Setenv("TURNSTILE_DEBUG", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SocketPath != "/run/turnstile/ctl.sock" {
		t.Errorf("SocketPath = %q", cfg.SocketPath)
	}
	if cfg.DeviceName != "dmapp1" {
		t.Errorf("DeviceName = %q", cfg.DeviceName)
	}
	if cfg.RegionSize != 4096 {
		t.Errorf("RegionSize = %d", cfg.RegionSize)
	}
	if !cfg.Debug {
		t.Error("Debug = false")
	}
}

func TestLoadRejectsBadRegionSize(t *testing.T) {
	clearEnv(t)
	t.Setenv("TURNSTILE_REGION_SIZE", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("Load accepted a non-numeric region size")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  Config{SocketPath: "/tmp/t.sock", DeviceName: "dmapp0", RegionSize: 40},
		},
		{
			name:    "empty socket path",
			cfg:     Config{DeviceName: "dmapp0", RegionSize: 40},
			wantErr: true,
		},
		{
			name:    "device name with slash",
			cfg:     Config{SocketPath: "/tmp/t.sock", DeviceName: "a/b", RegionSize: 40},
			wantErr: true,
		},
		{
			name:    "zero region size",
			cfg:     Config{SocketPath: "/tmp/t.sock", DeviceName: "dmapp0", RegionSize: 0},
			wantErr: true,
		},
		{
			name:    "oversized region",
			cfg:     Config{SocketPath: "/tmp/t.sock", DeviceName: "dmapp0", RegionSize: 64*1024*1024 + 1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
