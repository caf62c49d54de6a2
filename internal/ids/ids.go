// Package ids generates lexicographically sortable identifiers and maps them
// to partitioned on-disk paths.
package ids

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// idTimeLayout renders a UTC timestamp with millisecond precision so that
// ASCII ordering of IDs matches creation order.
const idTimeLayout = "20060102T150405.000"

// New returns an identifier of the form YYYYMMDDThhmmssSSSZ-<8-char-random>.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns an identifier stamped with the given time. Exposed for tests.
func NewAt(t time.Time) string {
	ts := strings.Replace(t.UTC().Format(idTimeLayout), ".", "", 1)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return ts + "Z-" + suffix
}

// Time extracts the creation timestamp from an identifier.
func Time(id string) (time.Time, error) {
	if _, err := Parse(id); err != nil {
		return time.Time{}, err
	}
	return time.Parse(idTimeLayout, id[0:15]+"."+id[15:18])
}

// Partition holds the path components extracted from an identifier.
type Partition struct {
	Year  string
	Month string
	Day   string
	Hour  string
}

// Parse extracts the partition from an identifier.
func Parse(id string) (Partition, error) {
	// YYYYMMDDThhmmssSSSZ-xxxxxxxx
	if len(id) < 28 || id[8] != 'T' || id[18] != 'Z' || id[19] != '-' {
		return Partition{}, fmt.Errorf("malformed id %q", id)
	}
	return Partition{
		Year:  id[0:4],
		Month: id[4:6],
		Day:   id[6:8],
		Hour:  id[9:11],
	}, nil
}
