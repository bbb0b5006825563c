// Package explorer attaches a disk image to an NBD device, mounts a
// partition chosen by the operator and opens a shell inside it. Everything
// acquired along the way is released in reverse order on every exit path.
package explorer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/larsks/qcow2-explore/internal/cleanup"
	"github.com/larsks/qcow2-explore/internal/command"
)

func NewExplorer(config Config, runner command.Runner, logger *log.Logger) *Explorer {
	if config.Device == "" {
		config.Device = DefaultDevice
	}
	if config.Shell == "" {
		config.Shell = DefaultShell
	}
	if config.MaxPartitions <= 0 {
		config.MaxPartitions = DefaultMaxPartitions
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	return &Explorer{
		config: config,
		runner: runner,
		input:  os.Stdin,
		output: os.Stdout,
		logger: logger,
	}
}

// SetIO replaces the operator's input and output used by the partition
// prompt and the session banners.
func (e *Explorer) SetIO(input io.Reader, output io.Writer) {
	e.input = input
	e.output = output
}

// PartitionDevice returns the device node of partition number on device.
// number is used as entered.
func PartitionDevice(device, number string) string {
	return fmt.Sprintf("%sp%s", device, number)
}

// ExitCode maps the result of Run to a process exit status.
func ExitCode(err error) int {
	if err != nil {
		return 1
	}
	return 0
}

func (e *Explorer) checkImage() error {
	info, err := os.Stat(e.config.ImagePath)
	if errors.Is(err, os.ErrNotExist) {
		return &PreconditionError{Path: e.config.ImagePath, Reason: "does not exist"}
	}
	if err != nil {
		return &PreconditionError{Path: e.config.ImagePath, Reason: "cannot be read", Err: err}
	}
	if !info.Mode().IsRegular() {
		return &PreconditionError{Path: e.config.ImagePath, Reason: "is not a regular file"}
	}
	return nil
}

func (e *Explorer) loadDriver() error {
	param := fmt.Sprintf("maxpart=%d", e.config.MaxPartitions)
	if err := e.runner.Run("modprobe", driverModule, param); err != nil {
		return fmt.Errorf("failed to load %s driver: %w", driverModule, err)
	}
	e.logger.Debugf("loaded %s driver with %s", driverModule, param)
	return nil
}

func (e *Explorer) connectArgs() []string {
	args := []string{"--connect", e.config.Device}
	if e.config.ReadOnly {
		args = append(args, "--read-only")
	}
	if e.config.Format != "" {
		args = append(args, "--format="+e.config.Format)
	}
	return append(args, e.config.ImagePath)
}

func (e *Explorer) connect() error {
	if err := e.runner.Run("qemu-nbd", e.connectArgs()...); err != nil {
		return fmt.Errorf("failed to attach %s to %s: %w", e.config.ImagePath, e.config.Device, err)
	}
	e.logger.Infof("attached %s to %s", e.config.ImagePath, e.config.Device)
	return nil
}

func (e *Explorer) disconnect() error {
	if err := e.runner.Run("qemu-nbd", "--disconnect", e.config.Device); err != nil {
		return fmt.Errorf("failed to disconnect NBD device %s: %w", e.config.Device, err)
	}
	return nil
}

func (e *Explorer) listPartitions() error {
	if err := e.runner.Stream("fdisk", "-l", e.config.Device); err != nil {
		return fmt.Errorf("failed to list partitions on %s: %w", e.config.Device, err)
	}
	return nil
}

// readLine reads up to and including the next newline one byte at a time,
// so input typed ahead of the shell is left for the shell to read.
func readLine(r io.Reader) (string, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				return string(line), nil
			}
			line = append(line, buf[0])
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				return string(line), nil
			}
			return "", err
		}
	}
}

type lineResult struct {
	line string
	err  error
}

func (e *Explorer) selectPartition() (string, error) {
	color.New(color.Bold).Fprint(e.output, "Desired partition number? ")

	result := make(chan lineResult, 1)
	go func() {
		line, err := readLine(e.input)
		result <- lineResult{line: line, err: err}
	}()

	var r lineResult
	select {
	case sig := <-e.signals:
		fmt.Fprintln(e.output)
		return "", fmt.Errorf("%w at partition prompt: %v", ErrInterrupted, sig)
	case r = <-result:
	}
	if r.err != nil {
		return "", fmt.Errorf("failed to read partition number: %w", r.err)
	}
	number := strings.TrimRight(r.line, "\r")

	partition := PartitionDevice(e.config.Device, number)
	e.logger.Debugf("selected partition %s", partition)
	return partition, nil
}

func (e *Explorer) createMountpoint() (string, error) {
	mountpoint, err := os.MkdirTemp(e.config.TempRoot, mountpointPrefix)
	if err != nil {
		return "", fmt.Errorf("failed to create mountpoint: %w", err)
	}
	e.logger.Debugf("created mountpoint %s", mountpoint)
	return mountpoint, nil
}

func removeMountpoint(mountpoint string) error {
	// os.Remove only: a directory that is still mounted must never have its
	// contents deleted.
	if err := os.Remove(mountpoint); err != nil {
		return fmt.Errorf("failed to remove mountpoint %s: %w", mountpoint, err)
	}
	return nil
}

func (e *Explorer) mountArgs(partition, mountpoint string) []string {
	var args []string
	if e.config.ReadOnly {
		args = append(args, "-o", "ro")
	}
	return append(args, partition, mountpoint)
}

func (e *Explorer) mount(partition, mountpoint string) error {
	if err := e.runner.Run("mount", e.mountArgs(partition, mountpoint)...); err != nil {
		return fmt.Errorf("failed to mount %s on %s: %w", partition, mountpoint, err)
	}
	e.logger.Infof("mounted %s on %s", partition, mountpoint)
	return nil
}

func (e *Explorer) unmount(mountpoint string) error {
	if err := e.runner.Run("umount", mountpoint); err != nil {
		return fmt.Errorf("failed to unmount %s: %w", mountpoint, err)
	}
	return nil
}

// interrupted reports a pending SIGINT or SIGTERM as an error.
func (e *Explorer) interrupted() error {
	select {
	case sig := <-e.signals:
		return fmt.Errorf("%w: %v", ErrInterrupted, sig)
	default:
		return nil
	}
}

func (e *Explorer) session(mountpoint string) {
	banner := color.New(color.FgGreen)
	banner.Fprintln(e.output, "\nYou are now looking at the mounted partition.")
	banner.Fprintln(e.output, "Press Ctrl+D to exit.")

	// The shell's exit status belongs to the operator, and so do the
	// interrupts sent while it runs: nothing reads e.signals after this.
	if err := e.runner.Interactive(mountpoint, e.config.Shell); err != nil {
		e.logger.Debugf("shell exited: %v", err)
	}

	banner.Fprintln(e.output, "Finished! Cleaning up...")
}

// Run explores the configured image. The driver is loaded and the image is
// connected first; from then on each acquired resource is registered for
// release, and all of them are released in reverse order however Run
// returns. The returned error combines the failure that ended the run, if
// any, with every release failure.
//
// SIGINT and SIGTERM do not terminate the process while Run is active.
// Outside the shell session they end the run with ErrInterrupted.
func (e *Explorer) Run() (err error) {
	if err := e.checkImage(); err != nil {
		return err
	}

	e.signals = make(chan os.Signal, 1)
	signal.Notify(e.signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(e.signals)

	if err := e.loadDriver(); err != nil {
		return err
	}
	if err := e.interrupted(); err != nil {
		return err
	}
	if err := e.connect(); err != nil {
		return err
	}

	stack := cleanup.NewStack(e.logger)
	stack.Push("NBD device "+e.config.Device, e.disconnect)
	defer func() {
		if uerr := stack.Unwind(); uerr != nil {
			err = multierror.Append(err, uerr)
		}
	}()

	if err := e.listPartitions(); err != nil {
		return err
	}
	if err := e.interrupted(); err != nil {
		return err
	}

	partition, err := e.selectPartition()
	if err != nil {
		return err
	}

	mountpoint, err := e.createMountpoint()
	if err != nil {
		return err
	}
	stack.Push("mountpoint "+mountpoint, func() error {
		return removeMountpoint(mountpoint)
	})
	if err := e.interrupted(); err != nil {
		return err
	}

	if err := e.mount(partition, mountpoint); err != nil {
		return err
	}
	stack.Push("mount "+mountpoint, func() error {
		return e.unmount(mountpoint)
	})
	if err := e.interrupted(); err != nil {
		return err
	}

	e.session(mountpoint)
	return nil
}
