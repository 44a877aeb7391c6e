package luxor

// Source tells where the data in a Result came from.
type Source int

const (
	// SourceNetwork: the controller answered this request with status Ok.
	SourceNetwork Source = iota
	// SourceCache: served from a cache entry younger than the cache TTL.
	SourceCache
	// SourceFallback: the controller answered with a failure status or timed
	// out; the value is the last-known state.
	SourceFallback
)

func (s Source) String() string {
	switch s {
	case SourceNetwork:
		return "network"
	case SourceCache:
		return "cache"
	case SourceFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Result carries a value together with its provenance. Reason is set for
// SourceFallback and holds the controller status text or the timeout error.
type Result[T any] struct {
	Value  T
	Source Source
	Reason string
}

// Stale reports whether the value is a fallback to last-known state.
func (r Result[T]) Stale() bool {
	return r.Source == SourceFallback
}
