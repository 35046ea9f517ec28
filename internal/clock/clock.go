/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package clock derives the listening context (weekday and part of day)
// the selection policy keys its estimates on.
package clock

import (
	"fmt"
	"strings"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// System reads the local wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Fixed always reports the same instant.
type Fixed time.Time

func (f Fixed) Now() time.Time { return time.Time(f) }

// Func adapts a plain function to Clock.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

// Bucket is a coarse part of the day.
type Bucket string

const (
	Morning   Bucket = "Morning"
	Afternoon Bucket = "Afternoon"
	Evening   Bucket = "Evening"
)

// Buckets lists every bucket in day order.
var Buckets = []Bucket{Morning, Afternoon, Evening}

// BucketFor maps an hour of day (0-23) to its bucket.
func BucketFor(hour int) Bucket {
	switch {
	case hour < 12:
		return Morning
	case hour < 17:
		return Afternoon
	default:
		return Evening
	}
}

// Context identifies a weekday and part of day, e.g. "Monday-Morning".
type Context struct {
	Day    time.Weekday
	Bucket Bucket
}

func (c Context) String() string {
	return c.Day.String() + "-" + string(c.Bucket)
}

// ContextAt derives the context for t in t's own location.
func ContextAt(t time.Time) Context {
	return Context{Day: t.Weekday(), Bucket: BucketFor(t.Hour())}
}

// Current derives the context for the clock's present time.
func Current(c Clock) Context {
	if c == nil {
		c = System{}
	}
	return ContextAt(c.Now())
}

// ParseContext is the inverse of Context.String. Matching is case-insensitive.
func ParseContext(s string) (Context, error) {
	day, bucket, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Context{}, fmt.Errorf("invalid context %q: want Day-Bucket", s)
	}

	var ctx Context
	found := false
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), day) {
			ctx.Day = d
			found = true
			break
		}
	}
	if !found {
		return Context{}, fmt.Errorf("invalid context %q: unknown day %q", s, day)
	}

	for _, b := range Buckets {
		if strings.EqualFold(string(b), bucket) {
			ctx.Bucket = b
			return ctx, nil
		}
	}
	return Context{}, fmt.Errorf("invalid context %q: unknown bucket %q", s, bucket)
}
