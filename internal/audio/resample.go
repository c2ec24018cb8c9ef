package audio

// DownmixMono averages interleaved multi-channel samples into a mono
// waveform. Mono input is returned unchanged.
func DownmixMono(samples []float64, channels int) []float64 {
	if channels <= 1 {
		return samples
	}

	frames := len(samples) / channels
	mono := make([]float64, frames)

	for frame := range frames {
		var sum float64

		for ch := range channels {
			sum += samples[frame*channels+ch]
		}

		mono[frame] = sum / float64(channels)
	}

	return mono
}

// Resample converts a mono waveform from one sample rate to another using
// linear interpolation. Equal rates return the input unchanged.
func Resample(samples []float64, fromRate, toRate int) []float64 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(samples)) / ratio)

	if outLen == 0 {
		outLen = 1
	}

	out := make([]float64, outLen)

	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		if idx+1 < len(samples) {
			out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
		} else {
			out[i] = samples[len(samples)-1]
		}
	}

	return out
}
