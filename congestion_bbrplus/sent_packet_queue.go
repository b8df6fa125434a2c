// Copyright (c) 2017 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package congestion_bbrplus

import "github.com/sagernet/quic-go/congestion"

type sentPacketSlot[T any] struct {
	value   T
	present bool
}

// sentPacketQueue stores per-packet state indexed by packet number. Packet
// numbers are inserted in increasing order, possibly with gaps, so lookups
// are O(1) and removals are amortized O(1).
type sentPacketQueue[T any] struct {
	slots   []sentPacketSlot[T]
	present int
	first   congestion.PacketNumber
}

func (q *sentPacketQueue[T]) Len() int {
	return q.present
}

func (q *sentPacketQueue[T]) last() congestion.PacketNumber {
	return q.first + congestion.PacketNumber(len(q.slots)) - 1
}

// Push appends a packet. Numbers not above the last pushed one are rejected.
func (q *sentPacketQueue[T]) Push(packetNumber congestion.PacketNumber, value T) bool {
	if len(q.slots) == 0 {
		q.first = packetNumber
	} else if packetNumber <= q.last() {
		return false
	}
	for next := q.last() + 1; next < packetNumber; next++ {
		q.slots = append(q.slots, sentPacketSlot[T]{})
	}
	q.slots = append(q.slots, sentPacketSlot[T]{value: value, present: true})
	q.present++
	return true
}

func (q *sentPacketQueue[T]) slot(packetNumber congestion.PacketNumber) *sentPacketSlot[T] {
	if len(q.slots) == 0 || packetNumber < q.first || packetNumber > q.last() {
		return nil
	}
	s := &q.slots[packetNumber-q.first]
	if !s.present {
		return nil
	}
	return s
}

// Pop removes and returns the state of a packet.
func (q *sentPacketQueue[T]) Pop(packetNumber congestion.PacketNumber) (value T, ok bool) {
	s := q.slot(packetNumber)
	if s == nil {
		return value, false
	}
	value = s.value
	*s = sentPacketSlot[T]{}
	q.present--
	q.trim()
	return value, true
}

// DropBefore forgets every packet numbered below packetNumber.
func (q *sentPacketQueue[T]) DropBefore(packetNumber congestion.PacketNumber) {
	for len(q.slots) > 0 && q.first < packetNumber {
		if q.slots[0].present {
			q.present--
		}
		q.slots = q.slots[1:]
		q.first++
	}
	q.trim()
}

func (q *sentPacketQueue[T]) trim() {
	for len(q.slots) > 0 && !q.slots[0].present {
		q.slots = q.slots[1:]
		q.first++
	}
}
