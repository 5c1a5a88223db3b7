//go:build profile

package prof

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	runpprof "runtime/pprof"
	"sync"

	"github.com/google/pprof/profile"

	"github.com/ardnew/artemis/pkg"
)

// Available reports whether profiling is compiled in.
const Available = true

var errActive = errors.New("profile already active")

var (
	activeMutex sync.Mutex
	active      bool
)

// Session is a running profile.
type Session struct {
	cfg      Config
	cpu      *os.File
	server   *http.Server
	stopOnce sync.Once
	stopErr  error
}

// Start begins the profiles in cfg. Only one session may run at a time.
func Start(cfg Config) (*Session, error) {
	activeMutex.Lock()
	defer activeMutex.Unlock()
	if active {
		return nil, errActive
	}

	s := &Session{cfg: cfg}
	if cfg.BlockRate > 0 {
		runtime.SetBlockProfileRate(cfg.BlockRate)
	}
	if cfg.MutexFraction > 0 {
		runtime.SetMutexProfileFraction(cfg.MutexFraction)
	}

	if cfg.CPU != "" {
		f, err := os.Create(cfg.CPU)
		if err != nil {
			return nil, fmt.Errorf("cpu profile: %w", err)
		}
		if err := runpprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("cpu profile: %w", err)
		}
		s.cpu = f
	}

	if cfg.HTTP != "" {
		l, err := net.Listen("tcp", cfg.HTTP)
		if err != nil {
			s.stopCPU()
			return nil, fmt.Errorf("pprof listener: %w", err)
		}
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		s.server = &http.Server{Handler: mux}
		go s.server.Serve(l)
		pkg.LogInfo(pkg.ComponentCLI, "pprof serving", "addr", l.Addr().String())
	}

	active = true
	return s, nil
}

func (s *Session) stopCPU() error {
	if s.cpu == nil {
		return nil
	}
	runpprof.StopCPUProfile()
	err := s.cpu.Close()
	s.cpu = nil
	if err == nil {
		if n, perr := Samples(s.cfg.CPU); perr == nil {
			pkg.LogInfo(pkg.ComponentCLI, "cpu profile written", "path", s.cfg.CPU, "samples", n)
		}
	}
	return err
}

// Samples returns the number of samples in the profile at path.
func Samples(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	p, err := profile.Parse(f)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return len(p.Sample), nil
}

// Stop ends the CPU profile, writes the heap profile and shuts down the
// pprof handlers. Calls after the first return the first result.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		var errs []error
		errs = append(errs, s.stopCPU())
		if s.cfg.Heap != "" {
			errs = append(errs, writeHeap(s.cfg.Heap))
		}
		if s.server != nil {
			errs = append(errs, s.server.Close())
		}
		s.stopErr = errors.Join(errs...)

		activeMutex.Lock()
		active = false
		activeMutex.Unlock()
	})
	return s.stopErr
}

func writeHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("heap profile: %w", err)
	}
	runtime.GC()
	if err := runpprof.Lookup("heap").WriteTo(f, 0); err != nil {
		f.Close()
		return fmt.Errorf("heap profile: %w", err)
	}
	return f.Close()
}
