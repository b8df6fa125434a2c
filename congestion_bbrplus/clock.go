// Copyright 2016 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package congestion_bbrplus

import (
	"time"

	"github.com/sagernet/quic-go/monotime"
)

// Clock provides the current time to the Sender for events that carry no
// timestamp of their own.
type Clock interface {
	Now() monotime.Time
}

// DefaultClock reads TimeFunc, such as an NTP corrected clock, or the
// monotonic clock when TimeFunc is nil.
type DefaultClock struct {
	TimeFunc func() time.Time
}

// Now implements Clock.
func (c DefaultClock) Now() monotime.Time {
	if c.TimeFunc == nil {
		return monotime.Now()
	}
	return monotime.Time(c.TimeFunc().UnixNano())
}
