package audio

import "fmt"

// G.711 mu-law companding. The carrier consumes 8-bit mu-law at 8 kHz;
// synthesis providers that cannot emit it natively hand us 16-bit linear
// PCM which is companded (and, when needed, downsampled) here.

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// EncodeMulaw compands 16-bit signed little-endian PCM to 8-bit mu-law.
// A trailing odd byte is ignored.
func EncodeMulaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		out[i/2] = encodeMulawSample(sample)
	}
	return out
}

// DecodeMulaw expands 8-bit mu-law to 16-bit signed little-endian PCM.
func DecodeMulaw(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, b := range ulaw {
		sample := decodeMulawSample(b)
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return out
}

func encodeMulawSample(sample int16) byte {
	s := int(sample)
	sign := 0
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := 7
	for mask := 0x4000; exponent > 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> (exponent + 3)) & 0x0F
	return byte(^(sign | exponent<<4 | mantissa))
}

func decodeMulawSample(b byte) int16 {
	u := int(^b)
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	s := ((mantissa << 3) + mulawBias) << exponent
	s -= mulawBias
	if sign != 0 {
		s = -s
	}
	return int16(s)
}

// DownsamplePCM16 reduces the sample rate of 16-bit mono PCM by an integer
// factor, keeping every n-th sample. Returns an error when the source rate
// is not an integer multiple of the target rate.
func DownsamplePCM16(pcm []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", fromRate, toRate)
	}
	if fromRate == toRate {
		return pcm, nil
	}
	if fromRate%toRate != 0 {
		return nil, fmt.Errorf("sample rate %d is not an integer multiple of %d", fromRate, toRate)
	}
	step := fromRate / toRate
	out := make([]byte, 0, len(pcm)/step+2)
	for i := 0; i+1 < len(pcm); i += 2 * step {
		out = append(out, pcm[i], pcm[i+1])
	}
	return out, nil
}
