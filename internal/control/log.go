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

// Package control is the transport between client handles and the
// device instance: a unix socket carrying a small binary request and
// response codec. Attach and detach are socket lifecycle events; the
// hand-off semantics live in package arbiter.
package control

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	debug = strings.Contains(os.Getenv("DEBUG_TURNSTILE"), "control")

	log logrus.FieldLogger
)

// SetLogger sets the package logger.
func SetLogger(logger logrus.FieldLogger) {
	log = logger
}

func init() {
	logger := logrus.New()
	if debug {
		logger.Level = logrus.DebugLevel
		logger.Debug("turnstile: debug level enabled for control")
	}
	log = logger.WithField("logger", "turnstile/control")
}
