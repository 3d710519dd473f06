package uri

import (
	"errors"
	"testing"

	"github.com/simdb-io/simdb/pkg/core"
)

func TestParseFileURI(t *testing.T) {
	u, err := Parse("file:///data/run42/output.h5")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if u.Kind != KindFile {
		t.Errorf("expected kind file, got %s", u.Kind)
	}
	if u.Path != "/data/run42/output.h5" {
		t.Errorf("unexpected path %q", u.Path)
	}
}

func TestParseIMASURI(t *testing.T) {
	u, err := Parse("imas:?database=iterdb&pulse=1234&run=2&user=jdoe")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if u.Kind != KindIMAS {
		t.Fatalf("expected kind imas, got %s", u.Kind)
	}
	if u.IMAS.Pulse != 1234 || u.IMAS.Run != 2 {
		t.Errorf("unexpected query %+v", u.IMAS)
	}
	if u.IMAS.Database != "iterdb" || u.IMAS.User != "jdoe" {
		t.Errorf("unexpected query %+v", u.IMAS)
	}
}

func TestParseIMASShotSynonym(t *testing.T) {
	u, err := Parse("imas:?shot=99&run=1")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if u.IMAS.Pulse != 99 {
		t.Errorf("shot should normalize to pulse, got %d", u.IMAS.Pulse)
	}
	if got := u.String(); got != "imas:?pulse=99&run=1" {
		t.Errorf("unexpected canonical form %q", got)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		raw  string
		want error
	}{
		{"uda:?signal=x", core.ErrUnsupportedURIScheme},
		{"ftp://host/file", core.ErrUnsupportedURIScheme},
		{"no-scheme-at-all", core.ErrUnsupportedURIScheme},
		{"imas:?run=1", core.ErrMalformedURI},
		{"imas:?pulse=1", core.ErrMalformedURI},
		{"imas:?pulse=abc&run=1", core.ErrMalformedURI},
	}
	for _, tt := range tests {
		_, err := Parse(tt.raw)
		if !errors.Is(err, tt.want) {
			t.Errorf("Parse(%q) = %v, want %v", tt.raw, err, tt.want)
		}
	}
}
