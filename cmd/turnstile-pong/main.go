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

// Command turnstile-pong is the reference client: it attaches to a
// turnstiled instance and plays its half of the alternation, reading
// what the other side left in the buffer, bumping every byte, and
// handing the turn back.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"turnstile/client"
	"turnstile/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "turnstile-pong:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		socketPath string
		rounds     int
		work       time.Duration
	)

	cmd := &cobra.Command{
		Use:           "turnstile-pong",
		Short:         "Reference alternation client for turnstiled",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, socketPath, rounds, work)
		},
	}

	cmd.Flags().StringVar(&socketPath, "socket", config.DefaultSocketPath, "control socket path")
	cmd.Flags().IntVar(&rounds, "rounds", 0, "number of rounds to play (0 = until interrupted)")
	cmd.Flags().DurationVar(&work, "work", time.Second, "simulated work per round")

	return cmd
}

func run(ctx context.Context, socketPath string, rounds int, work time.Duration) error {
	c, err := client.Dial(socketPath)
	if err != nil {
		return err
	}
	defer c.Close()

	buf, err := c.Region()
	if err != nil {
		return err
	}

	parity := c.Parity()
	fmt.Printf("attached: parity=%d size=%d\n", parity, c.Size())

	for round := 0; rounds == 0 || round < rounds; round++ {
		if err := c.LockRetry(ctx); err != nil {
			return err
		}

		fmt.Printf("in(%d):  % x\n", 1-parity, buf)

		// Do some work
		select {
		case <-time.After(work):
		case <-ctx.Done():
			c.Unlock()
			return nil
		}

		for i := range buf {
			buf[i]++
		}
		fmt.Printf("out(%d): % x\n", parity, buf)

		if err := c.Unlock(); err != nil {
			// Unlock failures are warnings; the turn was still passed or
			// will be recovered on detach.
			fmt.Fprintf(os.Stderr, "warning: unlock: %v\n", err)
		}
	}

	return nil
}
