// Package prof records CPU and heap profiles of the command-line tools.
//
// Profiling is compiled in only with the "profile" build tag. Without it
// [Start] returns a session that records nothing, so the flags that enable
// profiling can stay wired in release builds:
//
//	go build -tags profile ./cmd/artemis-sim
//	artemis-sim --cpuprofile cpu.prof --memprofile heap.prof
//
// A session writes the CPU profile while it runs and the heap profile when
// it stops:
//
//	s, err := prof.Start(prof.Config{CPU: "cpu.prof", Heap: "heap.prof"})
//	if err != nil {
//		return err
//	}
//	defer s.Stop()
//
// Built with the tag, the package also serves the pprof HTTP handlers when
// [Config.HTTP] names an address.
package prof

// Config selects the profiles to record. Empty paths are skipped.
type Config struct {
	CPU  string // CPU profile output
	Heap string // heap profile written by [Session.Stop]
	HTTP string // address for the /debug/pprof/ handlers

	// BlockRate and MutexFraction enable the block and mutex profiles, see
	// runtime.SetBlockProfileRate and runtime.SetMutexProfileFraction.
	BlockRate     int
	MutexFraction int
}

// Enabled reports whether any profile is requested.
func (c Config) Enabled() bool {
	return c.CPU != "" || c.Heap != "" || c.HTTP != ""
}
