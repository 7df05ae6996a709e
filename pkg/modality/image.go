package modality

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
	"github.com/ekaya-inc/edp-engine/pkg/models"
)

// ImageAnalyzer computes resolution and quality metrics, and hands text found
// by the optional extractor to the text analyzer.
type ImageAnalyzer struct {
	extractor TextExtractor
	registry  *Registry
	logger    *zap.Logger
}

// NewImageAnalyzer creates an ImageAnalyzer. extractor may be nil.
func NewImageAnalyzer(extractor TextExtractor, registry *Registry, logger *zap.Logger) *ImageAnalyzer {
	return &ImageAnalyzer{
		extractor: extractor,
		registry:  registry,
		logger:    logger.Named("image"),
	}
}

// Analyze decodes the image and measures it on a bounded pixel sample.
func (a *ImageAnalyzer) Analyze(ctx context.Context, in *Input) (*models.AnalysisResult, error) {
	img, format, err := image.Decode(bytes.NewReader(in.Data))
	if err != nil {
		return nil, apperrors.Analyzer(err, "decode image %s", in.Name)
	}

	b := img.Bounds()
	m := measure(img, in.Config.Image.MaxSamplePixels)
	summary := &models.ImageSummary{
		Codec:       strings.ToUpper(format),
		ColorMode:   colorMode(img),
		Width:       b.Dx(),
		Height:      b.Dy(),
		Brightness:  m.brightness,
		Contrast:    m.contrast,
		LowContrast: m.contrast < in.Config.Image.LowContrastThreshold,
		Sharpness:   m.sharpness,
	}
	res := &models.AnalysisResult{
		Name:     in.Name,
		Modality: models.ModalityImage,
		Summary:  summary,
	}

	if a.extractor == nil {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := childName(in.Name, "text")
	text, err := a.extractor.ExtractText(ctx, in.Data, in.Detection.MIMEType)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		a.logger.Warn("Text extraction failed", zap.String("dataset", in.Name), zap.Error(err))
		res.Children = append(res.Children,
			Failed(name, models.ModalityText, apperrors.Analyzer(err, "text extraction failed")))
		return res, nil
	}
	if strings.TrimSpace(text) == "" {
		return res, nil
	}

	child, err := a.registry.Delegate(ctx, in, name, []byte(text), &models.Detection{
		Modality:   models.ModalityText,
		MIMEType:   "text/plain",
		Confidence: 1,
		Source:     models.DetectionContent,
	})
	if err != nil {
		return nil, err
	}
	res.Children = append(res.Children, child)
	return res, nil
}

type imageMetrics struct {
	brightness float64
	contrast   float64
	sharpness  float64
}

// measure samples at most maxPixels pixels on a regular grid. Brightness and
// contrast are the mean and standard deviation of luminance in [0, 1];
// sharpness is the variance of the Laplacian on the 0-255 luminance scale.
func measure(img image.Image, maxPixels int) imageMetrics {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return imageMetrics{}
	}

	stride := 1
	if maxPixels > 0 && w*h > maxPixels {
		stride = int(math.Ceil(math.Sqrt(float64(w*h) / float64(maxPixels))))
	}
	gw := (w + stride - 1) / stride
	gh := (h + stride - 1) / stride

	lum := make([]float64, gw*gh)
	var sum float64
	for gy := 0; gy < gh; gy++ {
		for gx := 0; gx < gw; gx++ {
			r, g, bl, _ := img.At(b.Min.X+gx*stride, b.Min.Y+gy*stride).RGBA()
			l := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)) / 0xffff
			lum[gy*gw+gx] = l
			sum += l
		}
	}
	n := float64(len(lum))
	mean := sum / n
	var ss float64
	for _, l := range lum {
		ss += (l - mean) * (l - mean)
	}

	var lapSum, lapSS float64
	lapN := 0
	for gy := 1; gy < gh-1; gy++ {
		for gx := 1; gx < gw-1; gx++ {
			c := lum[gy*gw+gx]
			v := 255 * (lum[(gy-1)*gw+gx] + lum[(gy+1)*gw+gx] + lum[gy*gw+gx-1] + lum[gy*gw+gx+1] - 4*c)
			lapSum += v
			lapSS += v * v
			lapN++
		}
	}
	var sharpness float64
	if lapN > 0 {
		lm := lapSum / float64(lapN)
		sharpness = lapSS/float64(lapN) - lm*lm
	}

	return imageMetrics{
		brightness: roundTo(mean, 4),
		contrast:   roundTo(math.Sqrt(ss/n), 4),
		sharpness:  roundTo(math.Max(sharpness, 0), 2),
	}
}

func colorMode(img image.Image) string {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return "L"
	case *image.Paletted:
		return "P"
	case *image.YCbCr:
		return "RGB"
	case *image.CMYK:
		return "CMYK"
	case *image.RGBA, *image.RGBA64, *image.NRGBA, *image.NRGBA64, *image.NYCbCrA:
		return "RGBA"
	case *image.Alpha, *image.Alpha16:
		return "A"
	}
	return "unknown"
}

func roundTo(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}
