package explorer

import (
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/larsks/qcow2-explore/internal/command"
)

const (
	// DefaultDevice is the NBD slot used when none is given. There is no
	// free-slot discovery, so two explorers using the same device will race.
	DefaultDevice        = "/dev/nbd0"
	DefaultShell         = "/bin/bash"
	DefaultMaxPartitions = 8

	driverModule     = "nbd"
	mountpointPrefix = "qcow2-explore-"
)

// ErrInterrupted is returned when the operator interrupts the run outside
// the shell session.
var ErrInterrupted = errors.New("interrupted")

type Config struct {
	// ImagePath is the disk image to explore.
	ImagePath string

	// ReadOnly attaches the image and mounts the partition read-only.
	ReadOnly bool

	// Device is the NBD device node the image is connected to.
	Device string

	// Format is passed to qemu-nbd as --format when set.
	Format string

	// Shell is started inside the mountpoint.
	Shell string

	// TempRoot is the parent of the mountpoint directory. Empty means the
	// system temp directory.
	TempRoot string

	// MaxPartitions is passed to the nbd driver as maxpart.
	MaxPartitions int
}

// PreconditionError is returned before any resource is acquired when the
// image cannot be explored.
type PreconditionError struct {
	Path   string
	Reason string
	Err    error
}

func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("image %s %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("image %s %s", e.Path, e.Reason)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

type Explorer struct {
	config Config
	runner command.Runner
	input  io.Reader
	output io.Writer
	logger *log.Logger

	// signals receives SIGINT and SIGTERM while Run is active.
	signals chan os.Signal
}
