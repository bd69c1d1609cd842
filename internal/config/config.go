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

// Package config loads daemon configuration from the environment, with
// optional .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Defaults
const (
	DefaultSocketPath = "/tmp/turnstile.sock"
	DefaultDeviceName = "dmapp0"
	DefaultRegionSize = 40 // ten 4-byte slots, matching the original device
)

// Config holds the daemon settings.
type Config struct {
	// SocketPath is where the control socket is bound.
	SocketPath string `validate:"required"`

	// DeviceName keys the region file under /dev/shm.
	DeviceName string `validate:"required,excludesall=/ "`

	// RegionSize is the shared payload size in bytes.
	RegionSize uint64 `validate:"min=1,max=67108864"`

	// Debug enables debug logging.
	Debug bool
}

var (
	validatorInstance *validator.Validate
	validatorOnce     sync.Once
)

func getValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInstance = validator.New()
	})
	return validatorInstance
}

// Load reads the configuration from the environment. A .env file in the
// working directory is merged in first when present.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		SocketPath: env("TURNSTILE_SOCKET", DefaultSocketPath),
		DeviceName: env("TURNSTILE_DEVICE", DefaultDeviceName),
		RegionSize: DefaultRegionSize,
		Debug:      os.Getenv("TURNSTILE_DEBUG") == "true",
	}

	if raw := os.Getenv("TURNSTILE_REGION_SIZE"); raw != "" {
		size, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TURNSTILE_REGION_SIZE: %w", err)
		}
		cfg.RegionSize = size
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func env(key string, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
