package ghub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name   string
		checks []Check
		want   string
	}{
		{"no checks", nil, "unknown"},
		{"all passing", []Check{
			{Name: "build", Status: "completed", Conclusion: "success"},
			{Name: "lint", Status: "completed", Conclusion: "success"},
		}, "success"},
		{"one running", []Check{
			{Name: "build", Status: "completed", Conclusion: "success"},
			{Name: "lint", Status: "in_progress"},
		}, "pending"},
		{"failure wins over running", []Check{
			{Name: "build", Status: "in_progress"},
			{Name: "lint", Status: "completed", Conclusion: "failure"},
		}, "failure"},
		{"timed out is a failure", []Check{
			{Name: "build", Status: "completed", Conclusion: "timed_out"},
		}, "failure"},
		{"cancelled is a failure", []Check{
			{Name: "build", Status: "completed", Conclusion: "cancelled"},
		}, "failure"},
		{"skipped counts as success", []Check{
			{Name: "build", Status: "completed", Conclusion: "skipped"},
		}, "success"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.checks)
			assert.Equal(t, tt.want, got.State)
			assert.Equal(t, tt.checks, got.Checks)
		})
	}
}

func TestRepoString(t *testing.T) {
	assert.Equal(t, "acme/widgets", Repo{Owner: "acme", Name: "widgets"}.String())
}
