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

// Command turnstiled runs the arbitration daemon: it brings up one
// device instance and serves its control socket until interrupted.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"turnstile/internal/arbiter"
	"turnstile/internal/config"
	"turnstile/internal/control"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		socketPath string
		deviceName string
		regionSize uint64
	)

	cmd := &cobra.Command{
		Use:           "turnstiled",
		Short:         "Two-party shared-buffer arbitration daemon",
		Long:          `turnstiled arbitrates exclusive turns over one shared memory buffer between exactly two local client processes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			// Flags win over environment.
			if cmd.Flags().Changed("socket") {
				cfg.SocketPath = socketPath
			}
			if cmd.Flags().Changed("device") {
				cfg.DeviceName = deviceName
			}
			if cmd.Flags().Changed("size") {
				cfg.RegionSize = regionSize
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&socketPath, "socket", config.DefaultSocketPath, "control socket path")
	cmd.Flags().StringVar(&deviceName, "device", config.DefaultDeviceName, "device name")
	cmd.Flags().Uint64Var(&regionSize, "size", config.DefaultRegionSize, "shared region payload size in bytes")

	return cmd
}

func run(cfg *config.Config) error {
	logger := logrus.New()
	if cfg.Debug {
		logger.Level = logrus.DebugLevel
	}
	log := logger.WithField("logger", "turnstiled")

	arbiter.SetLogger(logger)
	control.SetLogger(logger)

	dev, err := arbiter.NewDevice(cfg.DeviceName, cfg.RegionSize)
	if err != nil {
		return err
	}

	srv, err := control.NewServer(cfg.SocketPath, dev)
	if err != nil {
		dev.Close()
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve()
	}()

	log.Infof("device %q up: region %d bytes, socket %s", cfg.DeviceName, cfg.RegionSize, cfg.SocketPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			log.Errorf("serve: %v", err)
		}
	}

	// Close disconnects every client, which detaches them; only then can
	// the device release the region.
	srv.Close()
	os.Remove(cfg.SocketPath)

	if err := dev.Close(); err != nil {
		return err
	}

	log.Info("shutdown complete")
	return nil
}
