package radian

const kermitPoly uint16 = 0x8408

var kermitTable = makeKermitTable()

func makeKermitTable() [256]uint16 {
	var table [256]uint16
	for i := range table {
		var crc uint16
		c := uint16(i)
		for j := 0; j < 8; j++ {
			if (crc^c)&1 != 0 {
				crc = crc>>1 ^ kermitPoly
			} else {
				crc >>= 1
			}
			c >>= 1
		}
		table[i] = crc
	}
	return table
}

// Kermit computes CRC-16/KERMIT (reflected 0x1021, init 0). RADIAN frames carry it
// low byte first.
func Kermit(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = crc>>8 ^ kermitTable[(crc^uint16(b))&0xFF]
	}
	return crc
}
