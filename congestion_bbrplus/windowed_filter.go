// Copyright (c) 2016 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Kathleen Nichols' windowed extremum: the best, second best and third best
// samples are kept so that the n'th best is never older than the n-1'th.
// When the best sample ages out the next one is promoted, so the estimate
// follows the true extremum of the window in O(1) per update.

package congestion_bbrplus

// WindowedFilterValue is the type constraint for filtered values.
type WindowedFilterValue interface {
	~uint32 | ~uint64 | ~int64
}

// WindowedFilterTime is the type constraint for the filter clock. Unsigned
// clocks may wrap; ages are computed with modular subtraction.
type WindowedFilterTime interface {
	~uint32 | ~uint64 | ~int64
}

type windowedSample[V WindowedFilterValue, T WindowedFilterTime] struct {
	value V
	time  T
}

// WindowedFilter tracks the maximum or minimum of a sample stream over a
// window measured in T units, such as round trips or microseconds.
type WindowedFilter[V WindowedFilterValue, T WindowedFilterTime] struct {
	window    T
	estimates [3]windowedSample[V, T]
	better    func(V, V) bool
	filled    bool
}

// NewWindowedMaxFilter returns a filter reporting the window maximum.
func NewWindowedMaxFilter[V WindowedFilterValue, T WindowedFilterTime](window T) *WindowedFilter[V, T] {
	return &WindowedFilter[V, T]{
		window: window,
		better: func(a, b V) bool { return a >= b },
	}
}

// NewWindowedMinFilter returns a filter reporting the window minimum.
func NewWindowedMinFilter[V WindowedFilterValue, T WindowedFilterTime](window T) *WindowedFilter[V, T] {
	return &WindowedFilter[V, T]{
		window: window,
		better: func(a, b V) bool { return a <= b },
	}
}

// Update feeds a sample taken at now and returns the new best estimate.
func (f *WindowedFilter[V, T]) Update(value V, now T) V {
	if !f.filled || f.better(value, f.estimates[0].value) || now-f.estimates[2].time > f.window {
		return f.Reset(value, now)
	}
	sample := windowedSample[V, T]{value: value, time: now}
	if f.better(value, f.estimates[1].value) {
		f.estimates[1] = sample
		f.estimates[2] = sample
	} else if f.better(value, f.estimates[2].value) {
		f.estimates[2] = sample
	}
	f.expire(sample)
	return f.estimates[0].value
}

// expire promotes samples that fell out of the window, and refreshes the
// second and third estimates once a quarter and a half window pass without
// a better sample.
func (f *WindowedFilter[V, T]) expire(sample windowedSample[V, T]) {
	age := sample.time - f.estimates[0].time
	if age > f.window {
		f.estimates[0] = f.estimates[1]
		f.estimates[1] = f.estimates[2]
		f.estimates[2] = sample
		if sample.time-f.estimates[0].time > f.window {
			f.estimates[0] = f.estimates[1]
			f.estimates[1] = f.estimates[2]
		}
		return
	}
	if f.estimates[1].time == f.estimates[0].time && age > f.window/4 {
		f.estimates[1] = sample
		f.estimates[2] = sample
		return
	}
	if f.estimates[2].time == f.estimates[1].time && age > f.window/2 {
		f.estimates[2] = sample
	}
}

// Reset discards history and starts over from a single sample.
func (f *WindowedFilter[V, T]) Reset(value V, now T) V {
	sample := windowedSample[V, T]{value: value, time: now}
	f.estimates = [3]windowedSample[V, T]{sample, sample, sample}
	f.filled = true
	return value
}

// Best returns the current estimate, or zero before the first sample.
func (f *WindowedFilter[V, T]) Best() V {
	return f.estimates[0].value
}
