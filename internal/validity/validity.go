package validity

import (
	"fmt"
	"strings"
	"time"
)

// Class is the severity bucket of a certificate's remaining lifetime.
type Class int

const (
	ClassUnknown Class = iota
	ClassExpired
	ClassCritical
	ClassWarning
	ClassOK
)

const (
	CriticalDays = 7
	WarningDays  = 30
)

const day = 24 * time.Hour

// String returns the string representation of the class
func (c Class) String() string {
	switch c {
	case ClassExpired:
		return "EXPIRED"
	case ClassCritical:
		return "CRITICAL"
	case ClassWarning:
		return "WARNING"
	case ClassOK:
		return "OK"
	default:
		return "UNKNOWN"
	}
}

// Message is the human readable verdict shown next to a certificate.
func (c Class) Message() string {
	switch c {
	case ClassExpired:
		return "Certificate is not valid."
	case ClassCritical:
		return "Certificate is valid for less than a week."
	case ClassWarning:
		return "Certificate is valid for less than a month."
	case ClassOK:
		return "Certificate is valid for over a month."
	default:
		return "Certificate state is unknown."
	}
}

// MarshalText encodes the class by name so reports carry "CRITICAL" rather than 1.
func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses a class name, case-insensitively.
func (c *Class) UnmarshalText(b []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(b))) {
	case "EXPIRED":
		*c = ClassExpired
	case "CRITICAL":
		*c = ClassCritical
	case "WARNING":
		*c = ClassWarning
	case "OK":
		*c = ClassOK
	case "UNKNOWN", "":
		*c = ClassUnknown
	default:
		return fmt.Errorf("unknown validity class: %q", string(b))
	}
	return nil
}

// RemainingDays returns the whole days between now and notAfter, rounded toward
// negative infinity. A certificate that lapsed an hour ago has -1 days left.
func RemainingDays(notAfter, now time.Time) int {
	d := notAfter.Sub(now)
	days := int(d / day)
	if d%day < 0 {
		days--
	}
	return days
}

// ClassOf maps remaining days onto a class. First matching threshold wins.
func ClassOf(remainingDays int) Class {
	switch {
	case remainingDays < 0:
		return ClassExpired
	case remainingDays < CriticalDays:
		return ClassCritical
	case remainingDays < WarningDays:
		return ClassWarning
	default:
		return ClassOK
	}
}

// Classify evaluates a certificate expiry relative to now.
func Classify(notAfter, now time.Time) (int, Class) {
	days := RemainingDays(notAfter, now)
	return days, ClassOf(days)
}
