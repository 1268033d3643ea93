package optimize

// SavingsPercent returns the size reduction of a converted file as a
// percentage of the original, clamped to zero so a variant that grew
// never reports negative savings. A non-positive original size yields
// zero rather than dividing by it.
func SavingsPercent(originalSize, convertedSize int64) float64 {
	if originalSize <= 0 {
		return 0
	}
	savings := float64(originalSize-convertedSize) / float64(originalSize) * 100
	if savings < 0 {
		return 0
	}
	return savings
}
