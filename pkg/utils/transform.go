package utils

import "strings"

// Dedup returns the first occurrence of every element, keeping input order.
func Dedup[T comparable](in []T) []T {
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, e := range in {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// TrimEndpoints normalizes RPC endpoints and drops duplicates.
func TrimEndpoints(in []string) []string {
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.TrimRight(strings.TrimSpace(e), "/")
		if e != "" {
			out = append(out, e)
		}
	}
	return Dedup(out)
}

func YesNo(b bool) string {
	if b {
		return "YES"
	}
	return "NO"
}
