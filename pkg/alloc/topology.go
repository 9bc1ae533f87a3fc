package alloc

import (
	"bufio"
	"io"
	"os"
	"runtime"
	"strings"
)

// CPUInfoPath is where the kernel reports logical processors.
const CPUInfoPath = "/proc/cpuinfo"

// CountProcessors counts "processor" entries in /proc/cpuinfo content.
func CountProcessors(r io.Reader) (int, error) {
	count := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, _, ok := strings.Cut(scanner.Text(), ":")
		if ok && strings.TrimSpace(key) == "processor" {
			count++
		}
	}
	return count, scanner.Err()
}

// DetectTopology reads the local host topology, falling back to
// runtime.NumCPU when /proc/cpuinfo is unavailable.
func DetectTopology() Topology {
	f, err := os.Open(CPUInfoPath)
	if err == nil {
		defer f.Close()
		if n, err := CountProcessors(f); err == nil && n > 0 {
			return Topology{TotalCores: n}
		}
	}
	return Topology{TotalCores: runtime.NumCPU()}
}
