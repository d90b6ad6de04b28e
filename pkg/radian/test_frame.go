package radian

import "encoding/binary"

// ResponseFields describes a meter answer for BuildResponseFrame.
type ResponseFields struct {
	Volume        uint32
	BatteryMonths uint8
	Counter       uint8
	TimeStart     uint8
	TimeEnd       uint8
	History       []uint32
	// Size is the frame length, DataFrameSize when zero.
	Size int
}

// BuildResponseFrame builds a decoded data frame the way a meter sends it, CRC included.
func BuildResponseFrame(id MeterIdentity, f ResponseFields) []byte {
	size := f.Size
	if size == 0 {
		size = DataFrameSize
	}
	frame := make([]byte, size)
	frame[0] = byte(size)
	frame[1] = 0x11
	frame[2] = 0x00
	frame[3] = 0x45
	serial := id.WireSerial()
	frame[offsetYear] = id.Year
	frame[offsetSerial] = byte(serial >> 16)
	frame[offsetSerial+1] = byte(serial >> 8)
	frame[offsetSerial+2] = byte(serial)
	if offsetCounter < size-2 {
		binary.LittleEndian.PutUint32(frame[offsetVolume:], f.Volume)
		frame[offsetBattery] = f.BatteryMonths
		frame[offsetStart] = f.TimeStart
		frame[offsetEnd] = f.TimeEnd
		frame[offsetCounter] = f.Counter
	}
	for i, v := range f.History {
		offset := historyOffset + i*4
		if offset+4 > size-2 {
			break
		}
		binary.LittleEndian.PutUint32(frame[offset:], v)
	}
	binary.LittleEndian.PutUint16(frame[size-2:], Kermit(frame[1:size-2]))
	return frame
}

// AirResponse is the oversampled bitstream for a decoded frame, padded to the raw length
// a receiver waiting for a frame of the given size collects.
func AirResponse(frame []byte, size int) []byte {
	return EncodeSerial4x(frame, RawResponseLength(size))
}

// AckFrame is a minimal acknowledge frame.
func AckFrame(id MeterIdentity) []byte {
	return BuildResponseFrame(id, ResponseFields{Size: AckFrameSize})
}
