package radian

import (
	"encoding/binary"
	"fmt"
	"strings"
)

type MeterType int

const (
	Water MeterType = iota
	Gas
)

func (t MeterType) String() string {
	if t == Gas {
		return "gas"
	}
	return "water"
}

func ParseMeterType(s string) (MeterType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "water", "":
		return Water, nil
	case "gas":
		return Gas, nil
	}
	return Water, fmt.Errorf("unknown meter type %q", s)
}

// MeterIdentity addresses a meter. Only the low 24 bits of Serial are sent on the air.
type MeterIdentity struct {
	Year   uint8
	Serial uint32
	Type   MeterType
}

func (id MeterIdentity) WireSerial() uint32 {
	return id.Serial & 0xFFFFFF
}

func (id MeterIdentity) String() string {
	return fmt.Sprintf("%02d-%07d", id.Year, id.Serial)
}

const (
	// AckFrameSize and DataFrameSize are the decoded sizes the meter answers with.
	AckFrameSize  = 0x12
	DataFrameSize = 0x7C

	MinResponseLength = 51

	offsetYear    = 4
	offsetSerial  = 5
	offsetVolume  = 18
	offsetBattery = 31
	offsetStart   = 44
	offsetEnd     = 45
	offsetCounter = 48
)

var (
	requestSync     = []byte{0x50, 0x00, 0x00, 0x00, 0x03, 0xFF, 0xFF, 0xFF, 0xFF}
	requestTemplate = []byte{0x13, 0x10, 0x00, 0x45, 0, 0, 0, 0, 0x00, 0x45, 0x20, 0x0A, 0x50, 0x14, 0x00, 0x0A, 0x40, 0, 0}
)

// RequestBody is the unencoded "read registers" command for a meter, CRC included.
func RequestBody(id MeterIdentity) []byte {
	body := append([]byte(nil), requestTemplate...)
	serial := id.WireSerial()
	body[offsetYear] = id.Year
	body[offsetSerial] = byte(serial >> 16)
	body[offsetSerial+1] = byte(serial >> 8)
	body[offsetSerial+2] = byte(serial)
	binary.LittleEndian.PutUint16(body[len(body)-2:], Kermit(body[:len(body)-2]))
	return body
}

// BuildRequestFrame returns the bytes written to the TX FIFO after the wake up burst:
// the sync pattern followed by the serial encoded request body.
func BuildRequestFrame(id MeterIdentity) []byte {
	frame := append([]byte(nil), requestSync...)
	return append(frame, EncodeSerial(RequestBody(id))...)
}

type CodecErrorKind int

const (
	BadLength CodecErrorKind = iota + 1
	BadChecksum
	IdentityMismatch
	MalformedPayload
)

func (k CodecErrorKind) String() string {
	switch k {
	case BadLength:
		return "BadLength"
	case BadChecksum:
		return "BadChecksum"
	case IdentityMismatch:
		return "IdentityMismatch"
	case MalformedPayload:
		return "MalformedPayload"
	}
	return fmt.Sprintf("CodecErrorKind(%d)", int(k))
}

type CodecError struct {
	Kind   CodecErrorKind
	Detail string
}

func (e *CodecError) Error() string {
	if e.Detail == "" {
		return "radian: " + e.Kind.String()
	}
	return fmt.Sprintf("radian: %s: %s", e.Kind, e.Detail)
}

func (e *CodecError) Is(target error) bool {
	t, ok := target.(*CodecError)
	return ok && t.Kind == e.Kind
}

var (
	ErrBadLength        = &CodecError{Kind: BadLength}
	ErrBadChecksum      = &CodecError{Kind: BadChecksum}
	ErrIdentityMismatch = &CodecError{Kind: IdentityMismatch}
	ErrMalformedPayload = &CodecError{Kind: MalformedPayload}
)

func codecError(kind CodecErrorKind, format string, args ...any) error {
	return &CodecError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

type Reading struct {
	// Volume is the raw register: liters for water meters.
	Volume uint32
	// VolumeUnits is Volume, divided by the gas divisor for gas meters.
	VolumeUnits   float64
	BatteryMonths uint8
	Counter       uint8
	TimeStart     uint8
	TimeEnd       uint8
	// History holds the monthly index values, oldest first. Empty when the frame
	// carries none or they do not pass validation.
	History []uint32
	// HistoryBlob is the decoded frame as received.
	HistoryBlob []byte
}

type ParseOptions struct {
	// GasDivisor applies to gas meters only; 0 means 1.
	GasDivisor uint16
}

// ParseResponseFrame validates a decoded data frame and extracts the meter registers.
// Byte 0 is the frame length L, the last two bytes of the frame are the CRC, low byte
// first, over bytes [1, L-2). The length byte itself is not covered.
func ParseResponseFrame(frame []byte, expected MeterIdentity, opts ParseOptions) (*Reading, error) {
	if len(frame) == 0 {
		return nil, codecError(BadLength, "empty frame")
	}
	size := int(frame[0])
	if size < MinResponseLength || size > len(frame) {
		return nil, codecError(BadLength, "length byte %d, %d bytes decoded", size, len(frame))
	}
	frame = frame[:size]

	want := binary.LittleEndian.Uint16(frame[size-2:])
	if got := Kermit(frame[1 : size-2]); got != want {
		return nil, codecError(BadChecksum, "crc 0x%04X, frame says 0x%04X", got, want)
	}

	year := frame[offsetYear]
	serial := uint32(frame[offsetSerial])<<16 | uint32(frame[offsetSerial+1])<<8 | uint32(frame[offsetSerial+2])
	if year != expected.Year || serial != expected.WireSerial() {
		return nil, codecError(IdentityMismatch, "frame from %02d-%07d", year, serial)
	}

	r := &Reading{
		Volume:        binary.LittleEndian.Uint32(frame[offsetVolume:]),
		BatteryMonths: frame[offsetBattery],
		TimeStart:     frame[offsetStart],
		TimeEnd:       frame[offsetEnd],
		Counter:       frame[offsetCounter],
	}
	if err := r.validate(); err != nil {
		return nil, err
	}

	r.VolumeUnits = float64(r.Volume)
	if expected.Type == Gas {
		divisor := opts.GasDivisor
		if divisor == 0 {
			divisor = 1
		}
		r.VolumeUnits = float64(r.Volume) / float64(divisor)
	}
	if history := extractHistory(frame); ValidateHistory(history, r.Volume) == nil {
		r.History = history
	}
	r.HistoryBlob = append([]byte(nil), frame...)
	return r, nil
}

func (r *Reading) validate() error {
	switch {
	case r.Volume == 0 || r.Volume == 0xFFFFFFFF:
		return codecError(MalformedPayload, "volume 0x%08X", r.Volume)
	case r.BatteryMonths == 0xFF:
		return codecError(MalformedPayload, "battery 0xFF")
	case r.TimeStart > 23 || r.TimeEnd > 23:
		return codecError(MalformedPayload, "time window %d-%d", r.TimeStart, r.TimeEnd)
	case r.Counter == 0 || r.Counter == 0xFF:
		return codecError(MalformedPayload, "counter %d", r.Counter)
	}
	return nil
}
