package capture

import (
	"strings"
	"time"
)

// NameParts are the inputs of an artifact file name.
type NameParts struct {
	Prefix   string // "ITR" or "VO"
	Customer string
	Job      string
	At       time.Time
	WithTime bool
	Ext      string // without the dot
}

// ArtifactName builds <PREFIX>_<customer>_<job>_<YYYY-MM-DD>[_<HHMMSS>].<ext>.
// User-supplied segments have every character outside [A-Za-z0-9] replaced
// by '_'; empty ones become Unknown and NoJob.
func ArtifactName(p NameParts) string {
	var b strings.Builder
	b.WriteString(p.Prefix)
	b.WriteByte('_')
	b.WriteString(safeSegment(p.Customer, "Unknown"))
	b.WriteByte('_')
	b.WriteString(safeSegment(p.Job, "NoJob"))
	b.WriteByte('_')
	b.WriteString(p.At.Format(time.DateOnly))
	if p.WithTime {
		b.WriteByte('_')
		b.WriteString(p.At.Format("150405"))
	}
	if p.Ext != "" {
		b.WriteByte('.')
		b.WriteString(p.Ext)
	}
	return b.String()
}

func safeSegment(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return strings.Map(func(r rune) rune {
		if r < 128 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, s)
}
