package utils

// Unique removes duplicates while keeping first-seen order.
func Unique[T comparable](items []T) []T {
	seen := make(map[T]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

// Intersect returns the members of a that also appear in b, in a's order.
func Intersect[T comparable](a, b []T) []T {
	in := make(map[T]struct{}, len(b))
	for _, v := range b {
		in[v] = struct{}{}
	}
	out := make([]T, 0)
	for _, v := range Unique(a) {
		if _, ok := in[v]; ok {
			out = append(out, v)
		}
	}
	return out
}
