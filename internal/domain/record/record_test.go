package record

import (
	"strings"
	"testing"

	"github.com/kailas-cloud/sightdex/internal/domain/search/candidate"
)

func TestValidate(t *testing.T) {
	ok := Record{ID: "r1", Body: "walked the ridge"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{"no id", Record{Body: "x"}, "id is required"},
		{"blank body", Record{ID: "r", Body: "  "}, "body is required"},
		{"long body", Record{ID: "r", Body: strings.Repeat("a", MaxBodyLength+1)}, "too long"},
		{"bad coords", Record{ID: "r", Body: "x", Coordinates: &candidate.Coordinates{Lat: 91}}, "coordinates"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" Lake", "lake", "", "Alpine "})
	if strings.Join(got, ",") != "lake,alpine" {
		t.Errorf("got %v", got)
	}
}
