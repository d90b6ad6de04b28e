package radian

import "errors"

const (
	requestStopBits  = 3
	responseStopBits = 2
	samplesPerBit    = 4
	maxDecodedSize   = 200
)

var ErrStopBit = errors.New("radian: stop bit error")

// bitWriter packs bits MSB first.
type bitWriter struct {
	buf []byte
	n   int
}

func (w *bitWriter) write(bit bool) {
	if w.n%8 == 0 {
		w.buf = append(w.buf, 0)
	}
	if bit {
		w.buf[len(w.buf)-1] |= 0x80 >> (w.n % 8)
	}
	w.n++
}

// padOnes fills the last byte with idle (mark) bits.
func (w *bitWriter) padOnes() {
	for w.n%8 != 0 {
		w.write(true)
	}
}

// EncodeSerial frames every byte as an asynchronous character: a start bit (0), eight
// data bits LSB first and three stop bits (1) before each following character. The
// stream is padded to a byte boundary with ones and terminated with 0xFF.
func EncodeSerial(data []byte) []byte {
	w := &bitWriter{}
	for i, b := range data {
		if i > 0 {
			for s := 0; s < requestStopBits; s++ {
				w.write(true)
			}
		}
		w.write(false)
		for k := 0; k < 8; k++ {
			w.write(b>>k&1 == 1)
		}
	}
	w.padOnes()
	return append(w.buf, 0xFF)
}

// EncodeSerial4x is what a meter puts on the air after the 0xFFF0 frame sync: the sync
// consumes the first start bit, characters carry two stop bits and every bit is sent as
// four samples. The result is padded with idle samples up to rawLen.
func EncodeSerial4x(frame []byte, rawLen int) []byte {
	w := &bitWriter{}
	bit := func(v bool) {
		for s := 0; s < samplesPerBit; s++ {
			w.write(v)
		}
	}
	for i, b := range frame {
		if i > 0 {
			for s := 0; s < responseStopBits; s++ {
				bit(true)
			}
			bit(false)
		}
		for k := 0; k < 8; k++ {
			bit(b>>k&1 == 1)
		}
	}
	// closing stop bits and one start bit, the decoder emits a character when it sees
	// the start of the next one
	for s := 0; s < responseStopBits; s++ {
		bit(true)
	}
	bit(false)
	bit(true)
	w.padOnes()
	for len(w.buf) < rawLen {
		w.buf = append(w.buf, 0xFF)
	}
	return w.buf
}

// DecodeSerial recovers characters from a 4x oversampled bitstream. Runs of equal
// samples are converted to (n+2)/4 bits, a single-sample run is treated as a glitch
// and merged back into the surrounding run. A character is emitted when the start bit
// of the next one is seen. A zero in the second stop bit position ends decoding with
// ErrStopBit; the characters decoded so far are returned with it.
func DecodeSerial(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var (
		out    = make([]byte, 0, len(raw)/samplesPerBit/11+1)
		cur    byte
		bitIdx int
		run    int
		carry  int
		pol    = raw[0] & 0x80
	)
	for _, b := range raw {
		for j := 0; j < 8; j++ {
			sample := b & 0x80
			b <<= 1
			if sample == pol {
				run++
				continue
			}
			if run == 1 {
				pol = sample
				run = max(carry+1, 1)
				continue
			}
			bits := (run + 2) / samplesPerBit
			carry = run - bits*samplesPerBit
			for k := 0; k < bits; k++ {
				if bitIdx < 8 {
					cur = cur>>1 | pol
				}
				bitIdx++
				if pol != 0 {
					continue
				}
				if bitIdx == 10 {
					return out, ErrStopBit
				}
				if bitIdx >= 11 {
					out = append(out, cur)
					bitIdx = 0
					if len(out) >= maxDecodedSize {
						return out, nil
					}
				}
			}
			pol = sample
			run = 1
		}
	}
	return out, nil
}

// RawResponseLength is the number of oversampled bytes that carry a frame of size
// decoded bytes.
func RawResponseLength(size int) int {
	return ((size*11)/8 + 1) * samplesPerBit
}
