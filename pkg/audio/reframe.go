package audio

// Reframe splits raw into frames of exactly frameSize bytes, padding the
// final frame with pad if the input length is not an exact multiple.
// An empty input yields no frames. Frames alias fresh buffers, so callers
// may retain or mutate them independently of raw.
func Reframe(raw []byte, frameSize int, pad byte) [][]byte {
	if frameSize <= 0 || len(raw) == 0 {
		return nil
	}

	n := (len(raw) + frameSize - 1) / frameSize
	frames := make([][]byte, 0, n)
	for off := 0; off < len(raw); off += frameSize {
		frame := make([]byte, frameSize)
		copied := copy(frame, raw[off:])
		for i := copied; i < frameSize; i++ {
			frame[i] = pad
		}
		frames = append(frames, frame)
	}
	return frames
}
