package iirfilter

import "encoding/binary"

// WireSize is the fixed byte length of a Config's PDI wire representation:
// a u32 order, a u32 sample rate, and MaxCoefficients float32 values.
const WireSize = 4 + 4 + 4*MaxCoefficients

// Encode serializes c into its fixed-size PDI wire representation.
func (c Config) Encode() []byte {
	buf := make([]byte, WireSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(c.Order))
	binary.LittleEndian.PutUint32(buf[4:8], c.SampleRateMs)
	for i, v := range c.Coefficients {
		off := 8 + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], float32bits(v))
	}
	return buf
}

// Decode parses a Config from its PDI wire representation. A buffer
// shorter than WireSize decodes as the zero Config.
func Decode(buf []byte) Config {
	var c Config
	if len(buf) < WireSize {
		return c
	}
	c.Order = int(binary.LittleEndian.Uint32(buf[0:4]))
	c.SampleRateMs = binary.LittleEndian.Uint32(buf[4:8])
	for i := range c.Coefficients {
		off := 8 + i*4
		c.Coefficients[i] = float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
	}
	return c
}
