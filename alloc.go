/* SPDX-License-Identifier: Apache-2.0
 *
 * Copyright 2023 Damian Peckett <damian@peckett>.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package hfa

import "sync"

// allocator hands out append-only byte ranges at the end of a file (spec
// §4.5). There is no free list: space released by remove-and-destroy or by
// growing a node past its current payload is never reclaimed within the
// same file.
type allocator struct {
	mu        sync.Mutex
	endOfFile int64
}

// newAllocator seeds end_of_file from the file's actual length at open,
// per spec §4.5.
func newAllocator(size int64) *allocator {
	return &allocator{endOfFile: size}
}

// allocate returns the current end_of_file and advances it by n.
func (a *allocator) allocate(n int64) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	off := a.endOfFile
	a.endOfFile += n
	return off
}

// size reports the current end_of_file, e.g. for CreateOverview's
// large-raster check.
func (a *allocator) size() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.endOfFile
}
