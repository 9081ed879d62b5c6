package prayer

import (
	"fmt"
	"strings"
)

// Label identifies one of the six daily markers, in chronological order.
type Label int

const (
	Fajr Label = iota
	Sunrise
	Dhuhr
	Asr
	Maghrib
	Isha
)

const labelCount = 6

// Labels lists every label in the fixed order of a day.
var Labels = [labelCount]Label{Fajr, Sunrise, Dhuhr, Asr, Maghrib, Isha}

func (l Label) String() string {
	switch l {
	case Fajr:
		return "fajr"
	case Sunrise:
		return "sunrise"
	case Dhuhr:
		return "dhuhr"
	case Asr:
		return "asr"
	case Maghrib:
		return "maghrib"
	case Isha:
		return "isha"
	default:
		return fmt.Sprintf("label(%d)", int(l))
	}
}

// Title returns the capitalized label used in announcements.
func (l Label) Title() string {
	s := l.String()
	if !l.Valid() {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (l Label) Valid() bool { return l >= Fajr && l <= Isha }

// Congregational reports whether the label has an iqama. Sunrise is a marker only.
func (l Label) Congregational() bool {
	switch l {
	case Sunrise:
		return false
	case Fajr, Dhuhr, Asr, Maghrib, Isha:
		return true
	default:
		return false
	}
}

// ParseLabel accepts the lowercase label names (case-insensitive).
func ParseLabel(s string) (Label, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fajr":
		return Fajr, nil
	case "sunrise":
		return Sunrise, nil
	case "dhuhr":
		return Dhuhr, nil
	case "asr":
		return Asr, nil
	case "maghrib":
		return Maghrib, nil
	case "isha":
		return Isha, nil
	default:
		return 0, fmt.Errorf("unknown prayer label %q", s)
	}
}

// Kind distinguishes the start of a prayer from its congregational call.
type Kind int

const (
	PrayerCall Kind = iota
	IqamaCall
)

func (k Kind) String() string {
	switch k {
	case PrayerCall:
		return "prayer"
	case IqamaCall:
		return "iqama"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}
