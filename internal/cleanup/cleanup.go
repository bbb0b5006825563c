// Package cleanup releases acquired resources in reverse order of
// acquisition.
package cleanup

import (
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

type step struct {
	name    string
	release func() error
}

// Stack holds release callbacks. A callback is pushed only after the
// matching resource has been acquired.
type Stack struct {
	steps  []step
	logger *log.Logger
}

func NewStack(logger *log.Logger) *Stack {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Stack{logger: logger}
}

// Push registers release for the resource called name.
func (s *Stack) Push(name string, release func() error) {
	s.steps = append(s.steps, step{name: name, release: release})
}

// Len reports how many releases are pending.
func (s *Stack) Len() int {
	return len(s.steps)
}

// Unwind pops and runs every pending release, last pushed first. A failing
// release is logged and does not stop the ones below it. The returned
// error aggregates all failures.
func (s *Stack) Unwind() error {
	var result *multierror.Error
	for len(s.steps) > 0 {
		last := s.steps[len(s.steps)-1]
		s.steps = s.steps[:len(s.steps)-1]

		s.logger.Debugf("releasing %s", last.name)
		if err := last.release(); err != nil {
			s.logger.WithError(err).Errorf("failed to release %s", last.name)
			result = multierror.Append(result, err)
			continue
		}
		s.logger.Infof("released %s", last.name)
	}
	return result.ErrorOrNil()
}
