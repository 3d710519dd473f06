package core

import (
	"time"

	"github.com/google/uuid"
)

// FileRole distinguishes how a file relates to a simulation.
type FileRole string

const (
	RoleInput  FileRole = "input"
	RoleOutput FileRole = "output"
)

// FileRef is a reference to a data object belonging to a simulation.
//
// A file may be shared between simulations through the
// simulation_files join relation; its checksum, once recorded, is
// never silently overwritten.
type FileRef struct {
	UUID uuid.UUID
	// MetadataSet is the owning metadata set, or uuid.Nil for a
	// detached file pending association.
	MetadataSet uuid.UUID
	URI         string
	Kind        string // "file" or "imas"
	Checksum    string
	Purpose     string
	Sensitivity string
	Access      string
	Embargo     string
	CreatedAt   time.Time
}

// Watcher notification classes. Stored as single letters, matching the
// wire and schema representation.
type NotificationClass string

const (
	NotifyValidation   NotificationClass = "V"
	NotifyRevision     NotificationClass = "R"
	NotifyObsolescence NotificationClass = "O"
	NotifyAll          NotificationClass = "A"
)

var notificationNames = map[NotificationClass]string{
	NotifyValidation:   "VALIDATION",
	NotifyRevision:     "REVISION",
	NotifyObsolescence: "OBSOLESCENCE",
	NotifyAll:          "ALL",
}

// ParseNotificationClass accepts either the single-letter or the long
// form of a notification class.
func ParseNotificationClass(s string) (NotificationClass, bool) {
	c := NotificationClass(s)
	if _, ok := notificationNames[c]; ok {
		return c, true
	}
	for class, name := range notificationNames {
		if name == s {
			return class, true
		}
	}
	return "", false
}

// Name returns the long form of the class, e.g. "REVISION".
func (c NotificationClass) Name() string {
	return notificationNames[c]
}

// Covers reports whether a watcher registered with class c should be
// notified about an event of the given class.
func (c NotificationClass) Covers(event NotificationClass) bool {
	return c == NotifyAll || c == event
}

// Watcher is a user registered to receive notifications about a remote
// simulation's lifecycle events.
type Watcher struct {
	Simulation   uuid.UUID
	Username     string
	Email        string
	Notification NotificationClass
}

// Vocabulary is a named set of permitted string values for a
// controlled metadata key.
type Vocabulary struct {
	Name  string
	Words []string
}

// Contains reports whether value is in the permitted set.
func (v *Vocabulary) Contains(value string) bool {
	for _, w := range v.Words {
		if w == value {
			return true
		}
	}
	return false
}

// Baseline stores the statistical envelope for one metadata path of a
// reference dataset, keyed by (device, scenario, path).
type Baseline struct {
	Device     string
	Scenario   string
	Path       string
	Mandatory  bool
	RangeLow   float64
	RangeHigh  float64
	MeanLow    float64
	MeanHigh   float64
	MedianLow  float64
	MedianHigh float64
	StdevLow   float64
	StdevHigh  float64
}
