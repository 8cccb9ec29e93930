package condition

import (
	"testing"
	"time"

	"github.com/areawatch/areawatch/pkg/types"
)

var baseTime = time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	d := types.Detection{Timestamp: baseTime, Class: "Person", Confidence: 0.85, Violation: true}
	cases := []struct {
		cond string
		want bool
	}{
		{"violation == yes", true},
		{"violation != true", false},
		{"violation == no", false},
		{"confidence >= 0.8", true},
		{"confidence > 90", false},
		{"class == person", true},
		{"class != person", false},
		{"hour == 14", true},
		{"hour < 6", false},
		{"confidence >= 0.8 && class == person && violation == true", true},
		{"confidence >= 0.8 && class == car", false},
	}
	for _, c := range cases {
		cond, err := Parse(c.cond)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.cond, err)
		}
		if got := cond.Match(d); got != c.want {
			t.Errorf("%q: got %v, want %v", c.cond, got, c.want)
		}
	}
}

func TestParse_Errors(t *testing.T) {
	for _, cond := range []string{
		"",
		"violation",
		"speed > 3",
		"confidence ~ 0.5",
		"confidence > high",
		"violation > yes",
		"violation == maybe",
		"class < person",
		"confidence > 0.5 &&",
	} {
		if _, err := Parse(cond); err == nil {
			t.Errorf("Parse(%q): expected error", cond)
		}
	}
}
