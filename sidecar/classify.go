package sidecar

import "strings"

// Signal is what a line of sidecar output means for the lifecycle.
type Signal int

const (
	SignalNone Signal = iota
	SignalProgress
	SignalReady
)

func (s Signal) String() string {
	switch s {
	case SignalProgress:
		return "progress"
	case SignalReady:
		return "ready"
	default:
		return "none"
	}
}

// readyMarkers are matched case-sensitively against stdout and stderr alike,
// since the backend's web server logs to stderr.
var readyMarkers = []string{
	"Uvicorn running on",
	"Application startup complete",
}

type progressRule struct {
	substrings []string
	// label returns the friendly message for a matching line.
	label func(line string) string
}

func constLabel(s string) func(string) string {
	return func(string) string { return s }
}

func verbatim(line string) string { return line }

// progressRules is ordered, first match wins.
var progressRules = []progressRule{
	{substrings: []string{"Checking dependencies"}, label: constLabel("Checking dependencies...")},
	{substrings: []string{"requirements_met"}, label: constLabel("Dependencies verified.")},
	{substrings: []string{"pip install", "Installing"}, label: func(line string) string { return "Installing: " + line }},
	{substrings: []string{"Cloning", "git clone"}, label: constLabel("Cloning repositories...")},
	{substrings: []string{"Downloading"}, label: verbatim},
	{substrings: []string{"Loading model", "loading"}, label: constLabel("Loading models...")},
	{substrings: []string{"Starting server", "uvicorn"}, label: constLabel("Starting server...")},
}

// Classification is the result of classifying one output line.
type Classification struct {
	Signal Signal
	// Message is the human-readable progress text. Empty unless Signal is SignalProgress.
	Message string
}

// IsReadySignal reports whether the line announces that the backend accepts requests.
func IsReadySignal(line string) bool {
	for _, m := range readyMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// ProgressMessage maps a raw line to a friendlier status string, or returns it unchanged.
func ProgressMessage(line string) string {
	for _, r := range progressRules {
		for _, s := range r.substrings {
			if strings.Contains(line, s) {
				return r.label(line)
			}
		}
	}
	return line
}

// Classify maps one line of sidecar output, from either stream, to a lifecycle signal.
func Classify(line string) Classification {
	line = strings.TrimSpace(line)
	if line == "" {
		return Classification{Signal: SignalNone}
	}
	if IsReadySignal(line) {
		return Classification{Signal: SignalReady}
	}
	return Classification{Signal: SignalProgress, Message: ProgressMessage(line)}
}
