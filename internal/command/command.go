// Package command runs the external tools the explorer depends on.
package command

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Runner executes external tools on behalf of the explorer.
type Runner interface {
	// Run waits for the command to finish with its output captured. The
	// output is logged and included in the returned error on failure.
	Run(name string, args ...string) error

	// Stream runs the command with stdout and stderr attached to the
	// operator, unmodified.
	Stream(name string, args ...string) error

	// Interactive runs the command in dir with stdin, stdout and stderr
	// attached to the operator's terminal and blocks until it exits.
	Interactive(dir, name string, args ...string) error
}

// Exec is a Runner backed by os/exec.
type Exec struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *log.Logger
}

// NewExec returns an Exec attached to the process stdio.
func NewExec(logger *log.Logger) *Exec {
	return &Exec{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: logger,
	}
}

func (e *Exec) logger() *log.Logger {
	if e.Logger == nil {
		return log.StandardLogger()
	}
	return e.Logger
}

func commandLine(name string, args []string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

func (e *Exec) Run(name string, args ...string) error {
	var output bytes.Buffer
	cmd := exec.Command(name, args...)
	cmd.Stdout = &output
	cmd.Stderr = &output

	e.logger().Debugf("running command: %s", commandLine(name, args))
	if err := cmd.Run(); err != nil {
		out := strings.TrimSpace(output.String())
		e.logger().WithField("command", name).Debugf("command output:\n%s", out)
		if out == "" {
			return fmt.Errorf("%s failed: %w", name, err)
		}
		return fmt.Errorf("%s failed: %w\nOutput: %s", name, err, out)
	}
	return nil
}

func (e *Exec) Stream(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr

	e.logger().Debugf("running command: %s", commandLine(name, args))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

func (e *Exec) Interactive(dir, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Stdin = e.Stdin
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr

	e.logger().Debugf("running command in %s: %s", dir, commandLine(name, args))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}
