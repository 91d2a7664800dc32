// Package audio owns everything between synthesized bytes and the speaker:
// container sniffing, PCM decoding and the oto output sink.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"

	"bliveTTS/internal/domain"
)

// Decode sniffs the container and returns playable PCM. The synthesis
// backends return either WAV (fish-speech, GPT-SoVITS) or MP3 (MiniMax,
// translate_tts), so those two are the whole menu.
func Decode(data []byte) (domain.AudioClip, error) {
	if len(data) < 4 {
		return domain.AudioClip{}, fmt.Errorf("audio: clip too short (%d bytes)", len(data))
	}
	if bytes.HasPrefix(data, []byte("RIFF")) {
		return decodeWAV(data)
	}
	return decodeMP3(data)
}

func decodeMP3(data []byte) (domain.AudioClip, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return domain.AudioClip{}, fmt.Errorf("audio: mp3 decoder: %w", err)
	}
	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return domain.AudioClip{}, fmt.Errorf("audio: mp3 read: %w", err)
	}
	// go-mp3 always emits 16-bit stereo.
	return domain.AudioClip{
		PCM:         pcm,
		SampleRate:  decoder.SampleRate(),
		Channels:    2,
		SampleWidth: 2,
	}, nil
}

func decodeWAV(data []byte) (domain.AudioClip, error) {
	if len(data) < 12 || string(data[8:12]) != "WAVE" {
		return domain.AudioClip{}, fmt.Errorf("audio: not a wav file")
	}

	var clip domain.AudioClip
	sawFmt := false

	// Walk the RIFF chunks; only fmt and data matter here.
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return domain.AudioClip{}, fmt.Errorf("audio: wav fmt chunk truncated")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return domain.AudioClip{}, fmt.Errorf("audio: unsupported wav format %d, want PCM", format)
			}
			clip.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			clip.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			clip.SampleWidth = int(binary.LittleEndian.Uint16(data[body+14:body+16])) / 8
			sawFmt = true
		case "data":
			clip.PCM = data[body : body+chunkSize]
		}

		// Chunks are word aligned.
		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if !sawFmt {
		return domain.AudioClip{}, fmt.Errorf("audio: wav missing fmt chunk")
	}
	if len(clip.PCM) == 0 {
		return domain.AudioClip{}, fmt.Errorf("audio: wav missing data chunk")
	}
	if clip.Channels <= 0 || clip.SampleRate <= 0 || clip.SampleWidth <= 0 {
		return domain.AudioClip{}, fmt.Errorf("audio: wav header has invalid format values")
	}
	return clip, nil
}
