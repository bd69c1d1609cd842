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

// Package shm implements the shared region provider: a fixed-size,
// memory-mapped buffer that two processes map into their address spaces
// and exchange data through.
//
// A region is backed by a file under /dev/shm (with a fallback to the
// system temporary directory) and begins with a small header carrying
// magic bytes, a protocol version, the payload geometry and a round
// sequence counter. The payload bytes are opaque to this package; mutual
// exclusion on them is arranged by the arbiter, not here. The round
// sequence is stored atomically on every hand-off so that payload writes
// made by one side are published before the other side observes its turn.
package shm
