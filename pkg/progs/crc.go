package progs

import "github.com/sigurn/crc16"

// The image checksum is CRC-16/CCITT-FALSE: polynomial 0x1021, initial
// value 0xffff, no final xor.
var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// CRC16 computes the image checksum of data.
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}
