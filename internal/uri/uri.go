// Package uri parses and validates the data object URIs accepted in
// simulation manifests: file paths and IMAS entries.
package uri

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/simdb-io/simdb/pkg/core"
)

// Kind values for parsed URIs.
const (
	KindFile = "file"
	KindIMAS = "imas"
)

// IMASQuery holds the query parameters of an imas URI:
// imas:?database=<name>&pulse=<int>&run=<int>&user=<name>.
// "shot" is accepted as a synonym for "pulse" and normalized.
type IMASQuery struct {
	Database string
	Pulse    int
	Run      int
	User     string
}

// URI is a parsed data object URI.
type URI struct {
	Kind string
	// Path is set for file URIs.
	Path string
	// IMAS is set for imas URIs.
	IMAS IMASQuery
}

// Parse validates raw and returns its parsed form. Unknown schemes
// yield core.ErrUnsupportedURIScheme; imas URIs missing pulse or run
// yield core.ErrMalformedURI.
func Parse(raw string) (*URI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrMalformedURI, raw)
	}

	switch u.Scheme {
	case KindFile:
		path := u.Path
		if path == "" && u.Opaque != "" {
			path = u.Opaque
		}
		if path == "" {
			return nil, fmt.Errorf("%w: file uri has no path: %s", core.ErrMalformedURI, raw)
		}
		return &URI{Kind: KindFile, Path: path}, nil

	case KindIMAS:
		q, err := parseIMASQuery(u, raw)
		if err != nil {
			return nil, err
		}
		return &URI{Kind: KindIMAS, IMAS: *q}, nil

	case "":
		return nil, fmt.Errorf("%w: no scheme: %s", core.ErrUnsupportedURIScheme, raw)
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedURIScheme, u.Scheme)
	}
}

func parseIMASQuery(u *url.URL, raw string) (*IMASQuery, error) {
	values := u.Query()

	pulse := values.Get("pulse")
	if pulse == "" {
		pulse = values.Get("shot")
	}
	if pulse == "" {
		return nil, fmt.Errorf("%w: imas uri missing pulse: %s", core.ErrMalformedURI, raw)
	}
	run := values.Get("run")
	if run == "" {
		return nil, fmt.Errorf("%w: imas uri missing run: %s", core.ErrMalformedURI, raw)
	}

	pulseNum, err := strconv.Atoi(pulse)
	if err != nil {
		return nil, fmt.Errorf("%w: imas pulse is not an integer: %s", core.ErrMalformedURI, raw)
	}
	runNum, err := strconv.Atoi(run)
	if err != nil {
		return nil, fmt.Errorf("%w: imas run is not an integer: %s", core.ErrMalformedURI, raw)
	}

	return &IMASQuery{
		Database: values.Get("database"),
		Pulse:    pulseNum,
		Run:      runNum,
		User:     values.Get("user"),
	}, nil
}

// String renders the URI in canonical form. IMAS query parameters come
// out in a fixed order with pulse as the canonical name.
func (u *URI) String() string {
	switch u.Kind {
	case KindFile:
		return "file://" + u.Path
	case KindIMAS:
		var sb strings.Builder
		sb.WriteString("imas:?")
		if u.IMAS.Database != "" {
			fmt.Fprintf(&sb, "database=%s&", url.QueryEscape(u.IMAS.Database))
		}
		fmt.Fprintf(&sb, "pulse=%d&run=%d", u.IMAS.Pulse, u.IMAS.Run)
		if u.IMAS.User != "" {
			fmt.Fprintf(&sb, "&user=%s", url.QueryEscape(u.IMAS.User))
		}
		return sb.String()
	}
	return ""
}
