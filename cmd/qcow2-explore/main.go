package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/larsks/qcow2-explore/internal/command"
	"github.com/larsks/qcow2-explore/internal/explorer"
	"github.com/larsks/qcow2-explore/internal/version"
)

type (
	Options struct {
		readOnly  bool
		nbdDevice string
		format    string
		shell     string
		debug     bool
		version   bool
		help      bool
	}
)

// currentUID is replaced in tests.
var currentUID = func() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return u.Uid, nil
}

func progName() string {
	return filepath.Base(os.Args[0])
}

func printUsage(flags *pflag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, "Usage: %s [OPTIONS] <image>\n", progName())
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  %s disk.qcow2\n", progName())
	fmt.Fprintf(w, "  %s --read-only disk.qcow2\n", progName())
	fmt.Fprintf(w, "  %s --nbd-device /dev/nbd2 --format qcow2 disk.qcow2\n", progName())
	fmt.Fprintf(w, "\nOptions:\n")
	fmt.Fprint(w, flags.FlagUsages())
}

func errorf(w io.Writer, format string, args ...any) {
	color.New(color.FgRed).Fprintf(w, "Error: "+format+"\n", args...)
}

func newFlagSet(options *Options, stderr io.Writer) *pflag.FlagSet {
	flags := pflag.NewFlagSet(progName(), pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.BoolVarP(&options.readOnly, "read-only", "r", false, "attach and mount the image read-only")
	flags.StringVarP(&options.nbdDevice, "nbd-device", "d", explorer.DefaultDevice, "NBD device to attach the image to")
	flags.StringVarP(&options.format, "format", "f", "", "image format for qemu-nbd (e.g., qcow2, raw, vmdk)")
	flags.StringVarP(&options.shell, "shell", "s", explorer.DefaultShell, "shell to run inside the mounted partition")
	flags.BoolVar(&options.debug, "debug", false, "enable debug logging")
	flags.BoolVarP(&options.version, "version", "v", false, "show version and exit")
	flags.BoolVarP(&options.help, "help", "h", false, "show this help message")
	flags.Usage = func() { printUsage(flags, stderr) }
	return flags
}

func newLogger(options Options, w io.Writer) *log.Logger {
	logger := log.New()
	logger.SetOutput(w)
	logger.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	if options.debug {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// run parses args (without the program name) and explores the image,
// returning the process exit status.
func run(args []string, stdout, stderr io.Writer) int {
	var options Options
	flags := newFlagSet(&options, stderr)

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage(flags, stdout)
			return 0
		}
		errorf(stderr, "%v", err)
		printUsage(flags, stderr)
		return 1
	}

	if options.help {
		printUsage(flags, stdout)
		return 0
	}

	if options.version {
		fmt.Fprintln(stdout, version.GetVersion(progName()))
		return 0
	}

	if flags.NArg() != 1 {
		errorf(stderr, "exactly one argument (image path) is required")
		printUsage(flags, stderr)
		return 1
	}

	uid, err := currentUID()
	if err != nil {
		errorf(stderr, "failed to get current user: %v", err)
		return 1
	}
	if uid != "0" {
		errorf(stderr, "%s must be run as root", progName())
		return 1
	}

	logger := newLogger(options, stderr)
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		logger.Warn("standard input is not a terminal; the shell session will not be interactive")
	}

	config := explorer.Config{
		ImagePath: flags.Arg(0),
		ReadOnly:  options.readOnly,
		Device:    options.nbdDevice,
		Format:    options.format,
		Shell:     options.shell,
	}

	e := explorer.NewExplorer(config, command.NewExec(logger), logger)
	if err := e.Run(); err != nil {
		errorf(stderr, "%v", err)
		return explorer.ExitCode(err)
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
