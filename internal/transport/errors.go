package transport

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotInstalled indicates the transport tool is not installed or not in PATH
var ErrNotInstalled = errors.New("gh not found: please install the GitHub CLI (https://cli.github.com)")

// ErrNotAuthenticated indicates the transport tool is installed but cannot
// authenticate; run 'gh auth login' or supply a token
var ErrNotAuthenticated = errors.New("gh not authenticated: please run 'gh auth login' or set GITHUB_TOKEN")

// Error is a transport failure. Message carries the tool's error text;
// ExitCode and Stderr are populated for process-backed transports
type Error struct {
	Message  string
	ExitCode int
	Stderr   string
}

func (e *Error) Error() string {
	if e.Stderr != "" && !strings.Contains(e.Message, e.Stderr) {
		return fmt.Sprintf("%s: %s", e.Message, strings.TrimSpace(e.Stderr))
	}
	return e.Message
}

// Kind is the classification of a transport failure
type Kind int

const (
	KindGeneric Kind = iota
	KindNotInstalled
	KindNotAuthenticated
	KindNotFound
	KindRateLimited
)

// Classifier maps a transport failure to a Kind using its exit code and error
// text. String matching on tool output is inherently fragile across tool
// versions and locales, so the rules live in one replaceable function
type Classifier func(exitCode int, text string) Kind

// DefaultClassifier classifies gh CLI failures. Exit codes are checked first
// (gh uses 4 for authentication problems), then stderr patterns
func DefaultClassifier(exitCode int, text string) Kind {
	lower := strings.ToLower(text)

	switch {
	case containsAny(lower, "rate limit", "secondary rate limit", "abuse detection", "slow down"):
		return KindRateLimited
	case containsAny(lower, "executable file not found", "command not found", "not found in $path"):
		return KindNotInstalled
	case exitCode == 4,
		containsAny(lower, "not logged in", "no accounts", "authentication failed", "unauthorized", "bad credentials"):
		return KindNotAuthenticated
	case containsAny(lower, "404", "not found", "could not resolve", "no such"):
		return KindNotFound
	default:
		return KindGeneric
	}
}

func containsAny(text string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// ClassifyError applies a classifier to any error, unwrapping *Error to reach
// the exit code when present
func ClassifyError(classify Classifier, err error) Kind {
	if err == nil {
		return KindGeneric
	}
	if errors.Is(err, ErrNotInstalled) {
		return KindNotInstalled
	}
	if errors.Is(err, ErrNotAuthenticated) {
		return KindNotAuthenticated
	}

	var terr *Error
	if errors.As(err, &terr) {
		return classify(terr.ExitCode, terr.Error())
	}
	return classify(0, err.Error())
}
