package disk

import "encoding/binary"

// FluxSampleSize is the encoded size of one flux timing sample.
const FluxSampleSize = 4

// EncodeFlux packs flux timing samples as little-endian uint32 values.
func EncodeFlux(samples []uint32) []byte {
	out := make([]byte, len(samples)*FluxSampleSize)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*FluxSampleSize:], s)
	}
	return out
}

// DecodeFlux unpacks little-endian uint32 samples. A trailing partial
// sample is ignored.
func DecodeFlux(data []byte) []uint32 {
	n := len(data) / FluxSampleSize
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[i*FluxSampleSize:])
	}
	return out
}
