package dedupe

// Option applies a configuration option to a Window.
type Option func(*Window)

// WithMaxSize sets how many submission ids are kept.
// If maxSize > 0: bounded mode with FIFO eviction.
// If maxSize <= 0: unbounded mode.
func WithMaxSize(maxSize int) Option {
	return func(w *Window) {
		w.maxSize = maxSize
	}
}
