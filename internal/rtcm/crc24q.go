package rtcm

// crc24q implements the CRC-24Q integrity check used by RTCM3 framing
// (polynomial 0x1864CFB), table-driven.
func crc24q(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = ((crc << 8) & 0xFFFFFF) ^ crc24qTable[byte(crc>>16)^b]
	}
	return crc
}

var crc24qTable = func() [256]uint32 {
	var table [256]uint32
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 16
		for bit := 0; bit < 8; bit++ {
			crc <<= 1
			if crc&0x1000000 != 0 {
				crc ^= 0x1864CFB
			}
		}
		table[i] = crc & 0xFFFFFF
	}
	return table
}()
