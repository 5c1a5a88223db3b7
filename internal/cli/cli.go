// Package cli holds the pieces shared by the command-line tools: .env
// defaults, logging flags, number parsing and output formatting.
package cli

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ardnew/artemis/pkg"
	"github.com/ardnew/artemis/pkg/prof"
)

// LoadEnv loads variables from the given .env files, or from ./.env when
// none are named. Missing files are ignored and variables already set in
// the environment win.
func LoadEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// Env returns the value of key, or def when it is unset or empty.
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvUint returns key parsed as an unsigned integer in any Go base prefix,
// or def when it is unset or malformed.
func EnvUint(key string, def uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		pkg.LogWarn(pkg.ComponentCLI, "ignored malformed variable", "key", key, "value", v)
		return def
	}
	return n
}

// ParseUint parses s as an unsigned integer of the given bit size. Prefixes
// 0x, 0o and 0b select the base.
func ParseUint(s string, bits int) (uint64, error) {
	n, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a %d-bit number", pkg.ErrInvalidField, s, bits)
	}
	return n, nil
}

// ParseHex decodes a hex string, ignoring a 0x prefix and any spaces or
// colons between bytes.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "_", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkg.ErrInvalidField, err)
	}
	return b, nil
}

// LogFlags are the logging flags every tool accepts.
type LogFlags struct {
	Debug  bool
	Format string
}

// AddLogFlags registers --debug and --log-format on cmd and its children.
func AddLogFlags(cmd *cobra.Command) *LogFlags {
	f := &LogFlags{}
	cmd.PersistentFlags().BoolVarP(&f.Debug, "debug", "d", false, "enable debug messages")
	cmd.PersistentFlags().StringVar(&f.Format, "log-format", Env("ARTEMIS_LOG_FORMAT", "text"), "log format: text or json")
	return f
}

// Apply configures the package logger from the flags.
func (f *LogFlags) Apply() error {
	format, err := pkg.ParseLogFormat(f.Format)
	if err != nil {
		return err
	}
	pkg.SetLogFormat(format)
	if f.Debug {
		pkg.SetLogLevel(slog.LevelDebug)
	}
	return nil
}

// ProfileFlags are the profiling flags of the long-running tools. They only
// take effect in binaries built with the "profile" tag.
type ProfileFlags struct {
	prof.Config
	session *prof.Session
}

// AddProfileFlags registers --cpuprofile, --memprofile and --pprof on cmd.
func AddProfileFlags(cmd *cobra.Command) *ProfileFlags {
	f := &ProfileFlags{}
	flags := cmd.PersistentFlags()
	flags.StringVar(&f.CPU, "cpuprofile", "", "write a CPU profile to this file")
	flags.StringVar(&f.Heap, "memprofile", "", "write a heap profile to this file on exit")
	flags.StringVar(&f.HTTP, "pprof", "", "serve pprof handlers on this address")
	return f
}

// Start starts profiling if any profile was requested.
func (f *ProfileFlags) Start() error {
	if !f.Enabled() {
		return nil
	}
	if !prof.Available {
		pkg.LogWarn(pkg.ComponentCLI, "profiling not compiled in, rebuild with -tags profile")
	}
	s, err := prof.Start(f.Config)
	if err != nil {
		return err
	}
	f.session = s
	return nil
}

// Stop stops the profile started by Start.
func (f *ProfileFlags) Stop() error {
	if f.session == nil {
		return nil
	}
	err := f.session.Stop()
	f.session = nil
	return err
}

// WriteData writes data to w, as a hex dump when w is a terminal and raw
// otherwise.
func WriteData(w io.Writer, data []byte) error {
	if IsTerminal(w) {
		_, err := io.WriteString(w, hex.Dump(data))
		return err
	}
	_, err := w.Write(data)
	return err
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Context returns a context cancelled by SIGINT or SIGTERM.
func Context(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
