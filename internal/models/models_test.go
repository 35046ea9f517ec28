package models

import (
	"reflect"
	"testing"
)

func TestTrackLabel(t *testing.T) {
	tests := []struct {
		name  string
		track Track
		want  string
	}{
		{name: "title and artist", track: Track{Title: "Song A", Artist: "Band A"}, want: "Song A by Band A"},
		{name: "title only", track: Track{Title: "Song A"}, want: "Song A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.track.Label(); got != tt.want {
				t.Fatalf("Label()=%q, want %q", got, tt.want)
			}
		})
	}
}

func TestTrackTagList(t *testing.T) {
	tests := []struct {
		tags string
		want []string
	}{
		{tags: "", want: nil},
		{tags: "   ", want: nil},
		{tags: "Pop", want: []string{"Pop"}},
		{tags: "Pop, Chill ,,Jazz", want: []string{"Pop", "Chill", "Jazz"}},
	}

	for _, tt := range tests {
		got := Track{Tags: tt.tags}.TagList()
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("TagList(%q)=%v, want %v", tt.tags, got, tt.want)
		}
	}
}
