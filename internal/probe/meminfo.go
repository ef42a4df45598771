package probe

import (
	"bufio"
	"strconv"
	"strings"
)

// parseMeminfo computes used memory as a percentage of MemTotal from
// /proc/meminfo text. MemAvailable is preferred; kernels without it fall
// back to MemFree + Buffers + Cached.
func parseMeminfo(out string) (float64, bool) {
	scanner := bufio.NewScanner(strings.NewReader(out))

	var total, free, available, buffers, cached int64
	hasAvailable := false
	found := 0
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) < 2 {
			continue
		}
		val, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		switch strings.TrimSuffix(parts[0], ":") {
		case "MemTotal":
			total = val
			found++
		case "MemFree":
			free = val
			found++
		case "MemAvailable":
			available = val
			hasAvailable = true
			found++
		case "Buffers":
			buffers = val
			found++
		case "Cached":
			cached = val
			found++
		}
	}
	if scanner.Err() != nil || total <= 0 || found < 2 {
		return 0, false
	}

	if !hasAvailable {
		available = free + buffers + cached
	}
	used := total - available
	if used < 0 {
		used = 0
	}
	return float64(used) / float64(total) * 100, true
}
