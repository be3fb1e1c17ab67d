package realtime

import "math"

// VAD classifies a frame as speech or non-speech.
type VAD interface {
	IsSpeech(frame []float32) bool
}

// RMS returns the root mean square of a frame, the volume measure pushed
// to subscribers.
func RMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// EnergyVAD calls a frame speech when its RMS clears a fixed threshold.
type EnergyVAD struct {
	threshold float64
}

// NewEnergyVAD creates an energy-based VAD.
func NewEnergyVAD(threshold float64) *EnergyVAD {
	return &EnergyVAD{threshold: threshold}
}

func (v *EnergyVAD) IsSpeech(frame []float32) bool {
	return RMS(frame) >= v.threshold
}
