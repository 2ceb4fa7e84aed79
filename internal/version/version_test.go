package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckRequired(t *testing.T) {
	tests := []struct {
		name       string
		current    string
		constraint string
		wantErr    string
	}{
		{"no constraint", "0.1.0", "", ""},
		{"satisfied", "0.3.1", ">= 0.2, < 1.0", ""},
		{"too old", "0.1.0", ">= 0.2", `does not satisfy required_version ">= 0.2"`},
		{"bad constraint", "0.1.0", "soon", "invalid required_version"},
		{"bad version", "dev", ">= 0.1", "invalid version format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckRequired(tt.current, tt.constraint)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestInfoString(t *testing.T) {
	info := Get()
	assert.Contains(t, info.String(), "evolution version "+Version)
	assert.Contains(t, info.FullString(), "Git Commit: "+GitCommit)
}
