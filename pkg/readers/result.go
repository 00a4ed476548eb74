// Zaparoo Handheld
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Handheld.
//
// Zaparoo Handheld is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Handheld is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Handheld.  If not, see <http://www.gnu.org/licenses/>.

package readers

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Result is a continuation that can be completed at most once. Driver
// status callbacks fire repeatedly over a link's lifetime, but the caller
// waiting on a connect only wants the first outcome.
type Result[T any] struct {
	value T
	err   error
	done  chan struct{}
	fired atomic.Bool
}

func NewResult[T any]() *Result[T] {
	return &Result[T]{done: make(chan struct{})}
}

// Complete resolves the result with a value. It returns false if the
// result was already resolved, in which case v is discarded.
func (r *Result[T]) Complete(v T) bool {
	if !r.fired.CompareAndSwap(false, true) {
		return false
	}
	r.value = v
	close(r.done)
	return true
}

// Fail resolves the result with an error. It returns false if the result
// was already resolved.
func (r *Result[T]) Fail(err error) bool {
	if !r.fired.CompareAndSwap(false, true) {
		return false
	}
	r.err = err
	close(r.done)
	return true
}

// Done is closed once the result is resolved.
func (r *Result[T]) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the result resolves or ctx ends.
func (r *Result[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("waiting for result: %w", ctx.Err())
	}
}
