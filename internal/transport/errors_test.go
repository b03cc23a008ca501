package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
		text     string
		want     Kind
	}{
		{"rate limit", 1, "API rate limit exceeded for user", KindRateLimited},
		{"secondary rate limit", 1, "You have exceeded a secondary rate limit", KindRateLimited},
		{"abuse detection", 1, "abuse detection mechanism triggered", KindRateLimited},
		{"not installed", 0, `exec: "gh": executable file not found in $PATH`, KindNotInstalled},
		{"auth exit code", 4, "some output", KindNotAuthenticated},
		{"bad credentials", 1, "HTTP 401: Bad credentials", KindNotAuthenticated},
		{"not logged in", 1, "You are not logged in to any GitHub hosts", KindNotAuthenticated},
		{"404", 1, "HTTP 404: Not Found (https://api.github.com/repos/acme/widgets/issues/999)", KindNotFound},
		{"graphql resolve", 1, "GraphQL: Could not resolve to an issue or pull request", KindNotFound},
		{"generic", 1, "something else went wrong", KindGeneric},
		{"empty", 0, "", KindGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultClassifier(tt.exitCode, tt.text))
		})
	}
}

func TestClassifyErrorUnwrapping(t *testing.T) {
	assert.Equal(t, KindGeneric, ClassifyError(DefaultClassifier, nil))

	assert.Equal(t, KindNotInstalled, ClassifyError(DefaultClassifier, ErrNotInstalled))
	assert.Equal(t, KindNotInstalled, ClassifyError(DefaultClassifier, fmt.Errorf("check failed: %w", ErrNotInstalled)))
	assert.Equal(t, KindNotAuthenticated, ClassifyError(DefaultClassifier, ErrNotAuthenticated))

	// The exit code survives wrapping
	terr := &Error{Message: "gh issue view failed", ExitCode: 4, Stderr: "unexpected"}
	assert.Equal(t, KindNotAuthenticated, ClassifyError(DefaultClassifier, fmt.Errorf("fetch: %w", terr)))

	// Plain errors classify on their text alone
	assert.Equal(t, KindRateLimited, ClassifyError(DefaultClassifier, errors.New("API rate limit exceeded")))
}

func TestErrorIncludesStderr(t *testing.T) {
	err := &Error{Message: "gh api failed", ExitCode: 1, Stderr: "HTTP 404: Not Found\n"}
	assert.Equal(t, "gh api failed: HTTP 404: Not Found", err.Error())

	// Stderr already folded into the message is not duplicated
	err = &Error{Message: "gh api failed: boom", Stderr: "boom"}
	assert.Equal(t, "gh api failed: boom", err.Error())
}
