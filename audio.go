package realtime

import "time"

// FrameSamples returns the sample count covering duration at the given rate
// and channel count.
func FrameSamples(duration time.Duration, rate, channels int) int {
	return int(duration.Seconds() * float64(channels) * float64(rate))
}

// FrameBytes returns the byte size of a 16-bit PCM frame covering duration.
func FrameBytes(duration time.Duration, rate, channels int) int {
	return FrameSamples(duration, rate, channels) * 2
}
