package alloc

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ExpandCorelist expands a corelist such as "2-5,7" into [2 3 4 5 7].
func ExpandCorelist(spec string) ([]int, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}

	var result []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, fmt.Errorf("invalid start value in range %s: %w", part, err)
			}
			end, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, fmt.Errorf("invalid end value in range %s: %w", part, err)
			}
			if start > end {
				return nil, fmt.Errorf("start value %d greater than end value %d in range %s", start, end, part)
			}
			for i := start; i <= end; i++ {
				result = append(result, i)
			}
			continue
		}

		val, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid value: %s", part)
		}
		result = append(result, val)
	}

	sort.Ints(result)
	return dedup(result), nil
}

// CompactCorelist renders cores in corelist notation: [2 3 4 5 7] -> "2-5,7".
func CompactCorelist(cores []int) string {
	if len(cores) == 0 {
		return ""
	}

	sorted := make([]int, len(cores))
	copy(sorted, cores)
	sort.Ints(sorted)
	sorted = dedup(sorted)

	var parts []string
	start, end := sorted[0], sorted[0]
	for _, c := range sorted[1:] {
		if c == end+1 {
			end = c
			continue
		}
		parts = append(parts, formatSpan(start, end))
		start, end = c, c
	}
	parts = append(parts, formatSpan(start, end))
	return strings.Join(parts, ",")
}

func formatSpan(start, end int) string {
	if start == end {
		return strconv.Itoa(start)
	}
	return fmt.Sprintf("%d-%d", start, end)
}

func dedup(sorted []int) []int {
	if len(sorted) == 0 {
		return sorted
	}
	out := sorted[:1]
	for _, v := range sorted[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

func span(start, end int) []int {
	if end < start {
		return nil
	}
	out := make([]int, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, i)
	}
	return out
}
