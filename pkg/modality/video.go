package modality

import (
	"bytes"
	"context"
	"fmt"

	"github.com/abema/go-mp4"
	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
	"github.com/ekaya-inc/edp-engine/pkg/models"
)

var mp4Containers = map[string]string{
	"video/mp4":       "mp4",
	"video/x-m4v":     "m4v",
	"video/quicktime": "mov",
}

// VideoAnalyzer probes MP4 and QuickTime containers. Audio tracks become
// child audio datasets.
type VideoAnalyzer struct {
	logger *zap.Logger
}

// NewVideoAnalyzer creates a VideoAnalyzer.
func NewVideoAnalyzer(logger *zap.Logger) *VideoAnalyzer {
	return &VideoAnalyzer{logger: logger.Named("video")}
}

// Analyze reads the container boxes; sample data is never decoded. Other
// containers fail with AnalyzerError.
func (a *VideoAnalyzer) Analyze(ctx context.Context, in *Input) (*models.AnalysisResult, error) {
	container, ok := mp4Containers[in.Detection.MIMEType]
	if !ok {
		return nil, apperrors.Analyzer(nil, "unsupported video container %s", in.Detection.MIMEType)
	}

	info, err := mp4.Probe(bytes.NewReader(in.Data))
	if err != nil {
		return nil, apperrors.Analyzer(err, "probe %s", in.Name)
	}
	if len(info.Tracks) == 0 {
		return nil, apperrors.Analyzer(nil, "%s has no tracks", in.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if string(info.MajorBrand[:]) == "qt  " {
		container = "mov"
	}

	summary := &models.VideoSummary{
		Container: container,
		Codec:     "unknown",
		Duration:  seconds(info.Duration, info.Timescale),
	}
	res := &models.AnalysisResult{
		Name:     in.Name,
		Modality: models.ModalityVideo,
		Summary:  summary,
	}

	videoFound := false
	for _, track := range info.Tracks {
		switch track.Codec {
		case mp4.CodecAVC1:
			if videoFound {
				continue
			}
			videoFound = true
			summary.Codec = "h264"
			if track.AVC != nil {
				summary.Width = int(track.AVC.Width)
				summary.Height = int(track.AVC.Height)
			}
			if d := seconds(track.Duration, track.Timescale); d > 0 {
				summary.FPS = roundTo(float64(len(track.Samples))/d, 3)
			}
		case mp4.CodecMP4A:
			summary.AudioTracks++
			res.Children = append(res.Children, audioTrack(in.Name, track))
		}
	}

	a.logger.Debug("Video analyzed",
		zap.String("dataset", in.Name),
		zap.String("codec", summary.Codec),
		zap.Int("audio_tracks", summary.AudioTracks))
	return res, nil
}

// audioTrack describes an AAC track from its sample description.
func audioTrack(parent string, track *mp4.Track) *models.AnalysisResult {
	summary := &models.AudioSummary{
		Codec:      "aac",
		SampleRate: int(track.Timescale),
		Duration:   seconds(track.Duration, track.Timescale),
	}
	if track.MP4A != nil {
		summary.Channels = int(track.MP4A.ChannelCount)
	}
	return &models.AnalysisResult{
		Name:     childName(parent, fmt.Sprintf("audio-%d", track.TrackID)),
		Modality: models.ModalityAudio,
		Summary:  summary,
	}
}

func seconds(duration uint64, timescale uint32) float64 {
	if timescale == 0 {
		return 0
	}
	return roundTo(float64(duration)/float64(timescale), 3)
}
