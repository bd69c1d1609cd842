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

// Package arbiter implements the double-buffered hand-off protocol that
// lets exactly two connections take turns exclusively accessing one
// shared memory region.
//
// Each connection is assigned a parity (0 or 1) at attach time. A pair
// of single-shot, re-armable signals encodes whose turn it is: a
// connection's Lock waits on the signal of its own parity and re-arms it
// after waking; Unlock fires the signal of the other parity. Parity 0's
// signal is pre-fired at device bring-up so that side may proceed first.
//
// One short-held mutex guards the two registry slots, the per-connection
// locked flags and all signal state transitions. The mutex is never held
// across a blocking wait: Lock snapshots the signal's wait channel under
// the mutex, waits outside it, and re-checks the signal state after
// waking. If a connection detaches while holding the lock, Detach fires
// the complementary signal on its behalf so the surviving connection is
// never stranded mid-wait.
package arbiter
