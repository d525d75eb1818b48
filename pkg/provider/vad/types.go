package vad

// Decision is the voice activity result for a single audio frame.
type Decision struct {
	// Voiced reports whether the frame is classified as speech.
	Voiced bool

	// Probability is the speech probability score (0.0–1.0). Threshold-based
	// engines report the normalised distance above/below the threshold.
	Probability float64
}
