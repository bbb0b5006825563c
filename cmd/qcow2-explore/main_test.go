package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withUID(t *testing.T, uid string, err error) {
	t.Helper()
	orig := currentUID
	currentUID = func() (string, error) { return uid, err }
	t.Cleanup(func() { currentUID = orig })
}

func TestRunExitCodes(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.qcow2")

	tests := []struct {
		name       string
		args       []string
		uid        string
		uidErr     error
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{
			name:       "unknown flag",
			args:       []string{"--bogus", "disk.qcow2"},
			uid:        "0",
			wantCode:   1,
			wantStderr: "unknown flag: --bogus",
		},
		{
			name:       "no image",
			args:       []string{},
			uid:        "0",
			wantCode:   1,
			wantStderr: "exactly one argument",
		},
		{
			name:       "too many arguments",
			args:       []string{"a.qcow2", "b.qcow2"},
			uid:        "0",
			wantCode:   1,
			wantStderr: "exactly one argument",
		},
		{
			name:       "help",
			args:       []string{"--help"},
			wantCode:   0,
			wantStdout: "Usage:",
		},
		{
			name:       "version",
			args:       []string{"--version"},
			wantCode:   0,
			wantStdout: "version",
		},
		{
			name:       "not root",
			args:       []string{missing},
			uid:        "1000",
			wantCode:   1,
			wantStderr: "must be run as root",
		},
		{
			name:       "user lookup fails",
			args:       []string{missing},
			uidErr:     errors.New("no passwd entry"),
			wantCode:   1,
			wantStderr: "failed to get current user",
		},
		{
			name:       "missing image",
			args:       []string{missing},
			uid:        "0",
			wantCode:   1,
			wantStderr: "does not exist",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withUID(t, tt.uid, tt.uidErr)
			var stdout, stderr bytes.Buffer

			code := run(tt.args, &stdout, &stderr)

			assert.Equal(t, tt.wantCode, code, "stderr: %s", stderr.String())
			if tt.wantStdout != "" {
				assert.Contains(t, stdout.String(), tt.wantStdout)
			}
			if tt.wantStderr != "" {
				assert.Contains(t, stderr.String(), tt.wantStderr)
			}
		})
	}
}

func TestRunReportsParseErrorOnce(t *testing.T) {
	var stdout, stderr bytes.Buffer

	assert.Equal(t, 1, run([]string{"--bogus"}, &stdout, &stderr))
	assert.Equal(t, 1, strings.Count(stderr.String(), "unknown flag: --bogus"))
	assert.Empty(t, stdout.String())
}
