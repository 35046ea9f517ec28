package clock

import (
	"testing"
	"time"
)

func TestContextAtBuckets(t *testing.T) {
	// 2024-01-01 was a Monday.
	day := func(hour, min int) time.Time {
		return time.Date(2024, time.January, 1, hour, min, 0, 0, time.UTC)
	}

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{name: "midnight", at: day(0, 0), want: "Monday-Morning"},
		{name: "late morning", at: day(11, 59), want: "Monday-Morning"},
		{name: "noon", at: day(12, 0), want: "Monday-Afternoon"},
		{name: "late afternoon", at: day(16, 59), want: "Monday-Afternoon"},
		{name: "five pm", at: day(17, 0), want: "Monday-Evening"},
		{name: "last minute", at: day(23, 59), want: "Monday-Evening"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContextAt(tt.at).String(); got != tt.want {
				t.Fatalf("ContextAt(%v)=%q, want %q", tt.at, got, tt.want)
			}
		})
	}
}

func TestCurrentUsesClock(t *testing.T) {
	saturdayNight := time.Date(2024, time.January, 6, 21, 30, 0, 0, time.UTC)

	if got := Current(Fixed(saturdayNight)); got != (Context{Day: time.Saturday, Bucket: Evening}) {
		t.Fatalf("unexpected context from Fixed clock: %v", got)
	}

	fn := Func(func() time.Time { return saturdayNight.Add(-12 * time.Hour) })
	if got := Current(fn).String(); got != "Saturday-Morning" {
		t.Fatalf("unexpected context from Func clock: %q", got)
	}
}

func TestParseContextRoundTrip(t *testing.T) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		for _, b := range Buckets {
			want := Context{Day: d, Bucket: b}
			got, err := ParseContext(want.String())
			if err != nil {
				t.Fatalf("ParseContext(%q): %v", want.String(), err)
			}
			if got != want {
				t.Fatalf("ParseContext(%q)=%v, want %v", want.String(), got, want)
			}
		}
	}

	got, err := ParseContext(" friday-EVENING ")
	if err != nil || got != (Context{Day: time.Friday, Bucket: Evening}) {
		t.Fatalf("case-insensitive parse failed: %v %v", got, err)
	}
}

func TestParseContextRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "Monday", "Funday-Morning", "Monday-Night", "-Morning"} {
		if _, err := ParseContext(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}
