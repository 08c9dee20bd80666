// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

// ring is a fixed-capacity ring buffer of strings, oldest entries
// overwritten first.
type ring struct {
	items []string
	head  int
	count int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 20
	}
	return &ring{items: make([]string, capacity)}
}

func (r *ring) push(item string) {
	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	if r.count < len(r.items) {
		r.count++
	}
}

// values returns the buffered entries oldest-first.
func (r *ring) values() []string {
	out := make([]string, 0, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.items)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.items[(start+i)%len(r.items)])
	}
	return out
}

func (r *ring) len() int {
	return r.count
}
