package esp3

// crc8Poly is the ESP3 CRC8 generator polynomial (x^8 + x^2 + x + 1).
const crc8Poly = 0x07

// crc8Table is computed once at package initialisation and is read-only
// afterwards, so it needs no synchronisation.
var crc8Table = buildCRC8Table()

func buildCRC8Table() [256]byte {
	var t [256]byte
	for i := range t {
		c := byte(i)
		for range 8 {
			if c&0x80 != 0 {
				c = c<<1 ^ crc8Poly
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}

// crc8Update folds one byte into a running checksum.
func crc8Update(crc, b byte) byte {
	return crc8Table[crc^b]
}

// CRC8 returns the ESP3 checksum of data (initial value 0, no final XOR).
// The checksum of an empty slice is 0.
func CRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = crc8Update(crc, b)
	}
	return crc
}
