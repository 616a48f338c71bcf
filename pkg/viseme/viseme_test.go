package viseme_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/MrWong99/facesync/pkg/viseme"
)

const eps = 1e-9

func approx(a, b float64) bool { return math.Abs(a-b) < eps }

func TestParseClass(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    viseme.Class
		wantErr bool
	}{
		{in: "0", want: viseme.Silence},
		{in: "7", want: viseme.Teeth},
		{in: "open", want: viseme.Open},
		{in: "TEETH_LIP", want: viseme.TeethLip},
		{in: " closed ", want: viseme.Closed},
		{in: "8", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "grin", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := viseme.ParseClass(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseClass(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClass(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseClass(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestClass_String(t *testing.T) {
	t.Parallel()
	if got := viseme.Round.String(); got != "round" {
		t.Errorf("Round.String() = %q", got)
	}
	if got := viseme.Class(42).String(); got != "class(42)" {
		t.Errorf("Class(42).String() = %q", got)
	}
	if viseme.Class(8).Valid() || viseme.Class(-1).Valid() {
		t.Error("out-of-range classes reported valid")
	}
}

func TestEvent_JSONWireFormat(t *testing.T) {
	t.Parallel()

	raw := `[{"viseme":1,"start":0.25,"duration":0.1,"viseme_name":"open"},{"viseme":0,"start":0.35,"duration":0.05}]`
	var tl viseme.Timeline
	if err := json.Unmarshal([]byte(raw), &tl); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(tl) != 2 {
		t.Fatalf("len = %d, want 2", len(tl))
	}
	if tl[0].Class != viseme.Open || !approx(tl[0].Start, 0.25) || !approx(tl[0].Duration, 0.1) {
		t.Errorf("event 0 = %+v", tl[0])
	}
}

func TestTimeline_EstimatedDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tl   viseme.Timeline
		want float64
	}{
		{name: "empty", tl: nil, want: 0},
		{name: "single", tl: viseme.Timeline{{Class: 1, Start: 0.5, Duration: 0.25}}, want: 0.75},
		{name: "last event wins", tl: viseme.Timeline{{Start: 0, Duration: 5}, {Start: 1, Duration: 0.5}}, want: 1.5},
		{name: "negative clamps", tl: viseme.Timeline{{Start: -2, Duration: 1}}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.tl.EstimatedDuration(); !approx(got, tt.want) {
				t.Errorf("EstimatedDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTimeline_Sorted(t *testing.T) {
	t.Parallel()
	if !(viseme.Timeline{{Start: 0, Duration: 1}, {Start: 1, Duration: 1}}).Sorted() {
		t.Error("ascending timeline reported unsorted")
	}
	if (viseme.Timeline{{Start: 1, Duration: 1}, {Start: 0, Duration: 1}}).Sorted() {
		t.Error("descending timeline reported sorted")
	}
	if (viseme.Timeline{{Start: 0, Duration: -1}}).Sorted() {
		t.Error("negative duration reported sorted")
	}
}

func TestTimeline_CloneIsIndependent(t *testing.T) {
	t.Parallel()
	orig := viseme.Timeline{{Class: 1, Start: 0, Duration: 1}}
	c := orig.Clone()
	c[0].Class = 5
	if orig[0].Class != 1 {
		t.Error("Clone shares memory with the original")
	}
}
