// Package directive extracts structured booking commands out of free-form
// assistant text and executes them through the booking service. The model's
// reply is treated purely as an envelope carrying at most one command.
package directive

import (
	"regexp"
	"strings"
	"time"
)

type Kind int

const (
	KindNone Kind = iota
	KindConfirm
	KindCancel
	KindReschedule
)

// Directive is the tagged variant parsed out of a reply.
type Directive struct {
	Kind Kind
	Time time.Time // Confirm, Reschedule
	Name string    // Confirm, Reschedule
	ID   string    // Cancel, Reschedule
}

var (
	confirmRe    = regexp.MustCompile(`CONFIRM:\s*(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}(?::\d{2})?)\s*\|\s*NAME:\s*([^|\n]+)`)
	cancelRe     = regexp.MustCompile(`CANCEL:\s*([A-Za-z0-9-]+)`)
	rescheduleRe = regexp.MustCompile(`RESCHEDULE:\s*([A-Za-z0-9-]+)\s*\|\s*NEW_TIME:\s*(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}(?::\d{2})?)\s*\|\s*NAME:\s*([^|\n]+)`)

	// System annotations injected into the model's input must never leak back
	// out to the customer.
	systemMarkerRe = regexp.MustCompile(`\[SYSTEM:[^\]]*\]`)

	directiveKeywordRe = regexp.MustCompile(`(?i)(CONFIRM|CANCEL|RESCHEDULE|NEW_TIME):`)
)

const (
	layoutSeconds = "2006-01-02T15:04:05"
	layoutMinutes = "2006-01-02T15:04"
)

// Parse finds the first well-formed directive in text. Timestamps are
// business-local. Detection is containment, not grammar: a keyword with a
// malformed payload parses as KindNone.
func Parse(text string, tz *time.Location) Directive {
	if m := confirmRe.FindStringSubmatch(text); m != nil {
		if t, ok := parseLocal(m[1], tz); ok {
			return Directive{Kind: KindConfirm, Time: t, Name: strings.TrimSpace(m[2])}
		}
	}
	if m := rescheduleRe.FindStringSubmatch(text); m != nil {
		if t, ok := parseLocal(m[2], tz); ok {
			return Directive{Kind: KindReschedule, ID: m[1], Time: t, Name: strings.TrimSpace(m[3])}
		}
	}
	if m := cancelRe.FindStringSubmatch(text); m != nil {
		return Directive{Kind: KindCancel, ID: m[1]}
	}
	return Directive{Kind: KindNone}
}

func parseLocal(raw string, tz *time.Location) (time.Time, bool) {
	for _, layout := range []string{layoutSeconds, layoutMinutes} {
		if t, err := time.ParseInLocation(layout, raw, tz); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var placeholderNames = map[string]struct{}{
	"name":          {},
	"full name":     {},
	"customer":      {},
	"customer name": {},
	"your name":     {},
	"client name":   {},
	"test":          {},
	"placeholder":   {},
	"john doe":      {},
	"jane doe":      {},
}

// IsPlaceholderName reports whether a name looks like a templated literal the
// model failed to fill in rather than a real customer name.
func IsPlaceholderName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return true
	}
	if strings.ContainsAny(name, "[]<>{}") {
		return true
	}
	_, ok := placeholderNames[strings.ToLower(name)]
	return ok
}
