package modality

import (
	"bytes"
	"context"
	"fmt"
	"math"

	"github.com/go-audio/wav"
	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
	"github.com/ekaya-inc/edp-engine/pkg/models"
)

// WAVE format tags.
const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatALaw       = 6
	wavFormatMuLaw      = 7
	wavFormatExtensible = 0xfffe
)

// AudioAnalyzer extracts technical metadata and signal levels from WAV audio.
type AudioAnalyzer struct {
	logger *zap.Logger
}

// NewAudioAnalyzer creates an AudioAnalyzer.
func NewAudioAnalyzer(logger *zap.Logger) *AudioAnalyzer {
	return &AudioAnalyzer{logger: logger.Named("audio")}
}

// Analyze decodes a WAV stream. Other audio codecs fail with AnalyzerError.
func (a *AudioAnalyzer) Analyze(ctx context.Context, in *Input) (*models.AnalysisResult, error) {
	if in.Detection.MIMEType != "audio/wav" {
		return nil, apperrors.Analyzer(nil, "unsupported audio codec %s", in.Detection.MIMEType)
	}

	d := wav.NewDecoder(bytes.NewReader(in.Data))
	if !d.IsValidFile() {
		return nil, apperrors.Analyzer(d.Err(), "invalid WAV file %s", in.Name)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, apperrors.Analyzer(err, "decode WAV samples %s", in.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	channels := int(d.NumChans)
	rate := int(d.SampleRate)
	bits := int(d.BitDepth)
	if channels == 0 || rate == 0 {
		return nil, apperrors.Analyzer(nil, "WAV header of %s has no channels or sample rate", in.Name)
	}

	summary := &models.AudioSummary{
		Codec:      wavCodec(d.WavAudioFormat, bits),
		Channels:   channels,
		SampleRate: rate,
		BitDepth:   bits,
		Duration:   roundTo(float64(len(buf.Data)/channels)/float64(rate), 3),
	}

	if (d.WavAudioFormat == wavFormatPCM || d.WavAudioFormat == wavFormatExtensible) && bits > 0 && len(buf.Data) > 0 {
		peak, rms := levels(buf.Data, bits)
		summary.PeakLevel = roundTo(peak, 4)
		summary.RMSLevel = roundTo(rms, 4)
	}

	a.logger.Debug("Audio analyzed",
		zap.String("dataset", in.Name),
		zap.String("codec", summary.Codec),
		zap.Float64("duration", summary.Duration))

	return &models.AnalysisResult{
		Name:     in.Name,
		Modality: models.ModalityAudio,
		Summary:  summary,
	}, nil
}

// levels returns the peak and RMS amplitude relative to full scale.
// 8-bit WAV samples are unsigned and centred on 128.
func levels(samples []int, bits int) (float64, float64) {
	full := math.Pow(2, float64(bits-1))
	offset := 0
	if bits == 8 {
		offset = 128
	}
	var peak, ss float64
	for _, s := range samples {
		v := math.Abs(float64(s-offset)) / full
		peak = math.Max(peak, v)
		ss += v * v
	}
	return math.Min(peak, 1), math.Sqrt(ss / float64(len(samples)))
}

func wavCodec(format uint16, bits int) string {
	switch format {
	case wavFormatPCM, wavFormatExtensible:
		if bits == 8 {
			return "pcm_u8"
		}
		return fmt.Sprintf("pcm_s%dle", bits)
	case wavFormatFloat:
		return fmt.Sprintf("pcm_f%dle", bits)
	case wavFormatALaw:
		return "pcm_alaw"
	case wavFormatMuLaw:
		return "pcm_mulaw"
	}
	return fmt.Sprintf("wav_0x%04x", format)
}
