package audio

import (
	"encoding/binary"
	"errors"
)

// wavHeaderSize is the size of the canonical RIFF/WAVE header produced by
// WAVFromPCM. The platform player only accepts framed audio, so raw PCM from
// the synthesis backend is wrapped just before handoff.
const wavHeaderSize = 44

// WAVFromPCM wraps raw PCM samples in a 44-byte RIFF/WAVE header.
// The header layout is fixed: "RIFF" at 0, "WAVE" at 8, "fmt " at 12,
// sample rate at 24, "data" at 36 and the payload length at 40, all
// multi-byte fields little-endian.
func WAVFromPCM(pcm []byte, format Format) []byte {
	dataLen := uint32(len(pcm))
	byteRate := uint32(format.SampleRate * format.Channels * format.BitDepth / 8)
	blockAlign := uint16(format.Channels * format.BitDepth / 8)

	wav := make([]byte, wavHeaderSize+len(pcm))

	copy(wav[0:4], "RIFF")
	binary.LittleEndian.PutUint32(wav[4:8], 36+dataLen)
	copy(wav[8:12], "WAVE")

	copy(wav[12:16], "fmt ")
	binary.LittleEndian.PutUint32(wav[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(wav[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(wav[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(wav[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(wav[28:32], byteRate)
	binary.LittleEndian.PutUint16(wav[32:34], blockAlign)
	binary.LittleEndian.PutUint16(wav[34:36], uint16(format.BitDepth))

	copy(wav[36:40], "data")
	binary.LittleEndian.PutUint32(wav[40:44], dataLen)
	copy(wav[44:], pcm)

	return wav
}

// ParseWAVHeader reads back the format fields of a canonical 44-byte header.
// It rejects anything that is not a RIFF/WAVE container.
func ParseWAVHeader(wav []byte) (Format, int, error) {
	if len(wav) < wavHeaderSize {
		return Format{}, 0, errors.New("audio: WAV data shorter than header")
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return Format{}, 0, errors.New("audio: missing RIFF/WAVE header")
	}

	format := Format{
		Channels:   int(binary.LittleEndian.Uint16(wav[22:24])),
		SampleRate: int(binary.LittleEndian.Uint32(wav[24:28])),
		BitDepth:   int(binary.LittleEndian.Uint16(wav[34:36])),
	}
	dataLen := int(binary.LittleEndian.Uint32(wav[40:44]))
	return format, dataLen, nil
}
