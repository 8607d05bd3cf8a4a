// ABOUTME: Registration of the software codecs
// ABOUTME: Adds every soft engine to a codec registry
package soft

import (
	"github.com/Resonate-Protocol/avcodec-go/pkg/audio"
	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
)

type softCodec struct {
	name string
	mime string
	kind codec.Kind
	proc func() Processor
}

var softCodecs = []softCodec{
	{"pcm-decoder", audio.MimeRaw, codec.AudioDecoder, func() Processor { return NewPCMProcessor(false) }},
	{"pcm-encoder", audio.MimeRaw, codec.AudioEncoder, func() Processor { return NewPCMProcessor(true) }},
	{"opus-decoder", audio.MimeOpus, codec.AudioDecoder, NewOpusDecoderProcessor},
	{"opus-encoder", audio.MimeOpus, codec.AudioEncoder, NewOpusEncoderProcessor},
	{"mp3-decoder", audio.MimeMP3, codec.AudioDecoder, NewMP3DecoderProcessor},
	{"flac-decoder", audio.MimeFLAC, codec.AudioDecoder, NewFLACDecoderProcessor},
}

// RegisterAll adds every software codec to reg. config supplies buffer pool
// sizes and debug logging; Name and Kind are filled in per codec.
func RegisterAll(reg *codec.Registry, config Config) error {
	for _, c := range softCodecs {
		c := c
		cfg := config
		cfg.Name = c.name
		cfg.Kind = c.kind
		err := reg.Register(codec.Registration{
			Name: c.name,
			Mime: c.mime,
			Kind: c.kind,
			New: func() (codec.Engine, error) {
				return NewEngine(cfg, c.proc()), nil
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}
