package audio

import "math"

// hannRise is the rising half of a Hann window sampled at position i of n.
// It never reaches exactly 0 or 1 inside the window.
func hannRise(i, n int) float64 {
	return 0.5 * (1 - math.Cos(math.Pi*float64(i+1)/float64(n+1)))
}

// ApplyAttack fades in the first n samples in place and returns how many
// samples were altered.
func ApplyAttack(samples []int16, n int) int {
	if n > len(samples) {
		n = len(samples)
	}
	for i := 0; i < n; i++ {
		samples[i] = floatToInt16(float64(samples[i]) * hannRise(i, n))
	}
	return n
}

// Crossfade blends the head of next against the end of prevTail in place.
// Only the first min(overlap, len(prevTail), len(next)) samples of next change;
// the result keeps the length of next.
func Crossfade(prevTail, next []int16, overlap int) int {
	n := overlap
	if n > len(prevTail) {
		n = len(prevTail)
	}
	if n > len(next) {
		n = len(next)
	}
	if n <= 0 {
		return 0
	}
	prev := prevTail[len(prevTail)-n:]
	for i := 0; i < n; i++ {
		w := hannRise(i, n)
		next[i] = floatToInt16(float64(next[i])*w + float64(prev[i])*(1-w))
	}
	return n
}

// Tail returns a copy of the last n samples.
func Tail(samples []int16, n int) []int16 {
	if n > len(samples) {
		n = len(samples)
	}
	if n <= 0 {
		return nil
	}
	return append([]int16(nil), samples[len(samples)-n:]...)
}
