// Package detect classifies raw asset bytes into a modality.
package detect

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
	"github.com/ekaya-inc/edp-engine/pkg/models"
)

// probeBytes bounds the prefix inspected by the delimited-text probe.
const probeBytes = 64 * 1024

// probeRecords is the number of records that must agree on a field count.
const probeRecords = 20

// Delimiters are probed in this order; ties keep the earlier one.
var Delimiters = []rune{',', ';', '\t', '|'}

// format describes what a MIME type or file extension implies.
type format struct {
	modality  models.Modality
	mime      string
	delimiter string
}

var mimeFormats = map[string]format{
	"text/csv":                  {models.ModalityStructured, "text/csv", ","},
	"text/tab-separated-values": {models.ModalityStructured, "text/tab-separated-values", "\t"},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {
		models.ModalityStructured, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "",
	},
	"application/json":   {models.ModalitySemiStructured, "application/json", ""},
	"text/plain":         {models.ModalityText, "text/plain", ""},
	"text/markdown":      {models.ModalityText, "text/markdown", ""},
	"image/png":          {models.ModalityImage, "image/png", ""},
	"image/jpeg":         {models.ModalityImage, "image/jpeg", ""},
	"image/gif":          {models.ModalityImage, "image/gif", ""},
	"image/bmp":          {models.ModalityImage, "image/bmp", ""},
	"image/tiff":         {models.ModalityImage, "image/tiff", ""},
	"image/webp":         {models.ModalityImage, "image/webp", ""},
	"audio/wav":          {models.ModalityAudio, "audio/wav", ""},
	"audio/x-wav":        {models.ModalityAudio, "audio/wav", ""},
	"audio/mpeg":         {models.ModalityAudio, "audio/mpeg", ""},
	"audio/flac":         {models.ModalityAudio, "audio/flac", ""},
	"audio/ogg":          {models.ModalityAudio, "audio/ogg", ""},
	"video/mp4":          {models.ModalityVideo, "video/mp4", ""},
	"video/quicktime":    {models.ModalityVideo, "video/quicktime", ""},
	"video/x-m4v":        {models.ModalityVideo, "video/x-m4v", ""},
	"video/webm":         {models.ModalityVideo, "video/webm", ""},
	"video/x-matroska":   {models.ModalityVideo, "video/x-matroska", ""},
	"video/x-msvideo":    {models.ModalityVideo, "video/x-msvideo", ""},
	"application/zip":    {models.ModalityArchive, "application/zip", ""},
	"application/gzip":   {models.ModalityArchive, "application/gzip", ""},
	"application/x-gzip": {models.ModalityArchive, "application/gzip", ""},
	"application/x-tar":  {models.ModalityArchive, "application/x-tar", ""},
	"application/pdf":    {models.ModalityUnknown, "application/pdf", ""},
}

var extensionFormats = map[string]string{
	"csv":  "text/csv",
	"tsv":  "text/tab-separated-values",
	"tab":  "text/tab-separated-values",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"json": "application/json",
	"txt":  "text/plain",
	"log":  "text/plain",
	"md":   "text/markdown",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"webp": "image/webp",
	"wav":  "audio/wav",
	"mp3":  "audio/mpeg",
	"flac": "audio/flac",
	"ogg":  "audio/ogg",
	"mp4":  "video/mp4",
	"m4v":  "video/x-m4v",
	"mov":  "video/quicktime",
	"webm": "video/webm",
	"mkv":  "video/x-matroska",
	"avi":  "video/x-msvideo",
	"zip":  "application/zip",
	"gz":   "application/gzip",
	"tgz":  "application/gzip",
	"tar":  "application/x-tar",
	"pdf":  "application/pdf",
}

// containerFormats are formats whose signature is a generic container; a
// filename or declaration naming one of them refines a container signature.
var containerFormats = map[string]string{
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": "application/zip",
}

// Detector implements the modality decision.
type Detector struct {
	logger *zap.Logger
}

// New creates a Detector.
func New(logger *zap.Logger) *Detector {
	return &Detector{logger: logger.Named("detect")}
}

// Detect classifies data. filename and declared are optional; declared may be
// a MIME type or a bare extension. An asset no analyzer can handle yields an
// UnrecognizedAssetError.
func (d *Detector) Detect(data []byte, filename, declared string) (models.Detection, error) {
	det, err := classify(data, filename, declared)
	if err != nil {
		d.logger.Debug("Asset not recognized",
			zap.String("filename", filename),
			zap.String("declared", declared),
			zap.Error(err))
		return det, err
	}
	if !det.Modality.IsAnalyzable() {
		return det, apperrors.UnrecognizedAsset("no analyzer handles %s content", det.MIMEType)
	}
	d.logger.Debug("Asset detected",
		zap.String("modality", string(det.Modality)),
		zap.String("mime", det.MIMEType),
		zap.String("source", string(det.Source)),
		zap.Float64("confidence", det.Confidence))
	return det, nil
}

func classify(data []byte, filename, declared string) (models.Detection, error) {
	if len(data) == 0 {
		return models.Detection{Modality: models.ModalityUnknown}, apperrors.UnrecognizedAsset("asset is empty")
	}

	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")
	declaredFmt, hasDeclared := lookupDeclared(declared)
	extFmt, hasExt := lookupMIME(extensionFormats[ext])

	mt := mimetype.Detect(data)
	sig := baseMIME(mt.String())

	// 1. Verified binary signature.
	if !isText(mt) {
		sigFmt, known := lookupSignature(mt)
		if !known {
			return models.Detection{Modality: models.ModalityUnknown, MIMEType: sig, Extension: ext},
				apperrors.UnrecognizedAsset("unrecognized binary content (%s)", sig)
		}
		det := models.Detection{
			Modality:   sigFmt.modality,
			MIMEType:   sigFmt.mime,
			Extension:  ext,
			Confidence: 0.9,
			Source:     models.DetectionSignature,
		}
		for _, claim := range []struct {
			f  format
			ok bool
		}{{declaredFmt, hasDeclared}, {extFmt, hasExt}} {
			if !claim.ok {
				continue
			}
			if claim.f.mime == sigFmt.mime {
				det.Confidence = 1.0
				break
			}
			if containerFormats[claim.f.mime] == sigFmt.mime {
				det.Modality, det.MIMEType = claim.f.modality, claim.f.mime
				det.Confidence = 1.0
				break
			}
		}
		return det, nil
	}

	if bytes.IndexByte(data, 0) >= 0 {
		return models.Detection{Modality: models.ModalityUnknown, MIMEType: sig, Extension: ext},
			apperrors.UnrecognizedAsset("content contains NUL bytes")
	}

	// 2. Declared type or extension naming a text modality.
	if hasDeclared && isTextFormat(declaredFmt) {
		return textDetection(data, declaredFmt, ext, models.DetectionDeclared, 0.8), nil
	}
	if hasExt && isTextFormat(extFmt) {
		return textDetection(data, extFmt, ext, models.DetectionExtension, 0.8), nil
	}

	// 3. Structural probes.
	if sig == "application/json" {
		return models.Detection{
			Modality:   models.ModalitySemiStructured,
			MIMEType:   "application/json",
			Extension:  ext,
			Confidence: 0.8,
			Source:     models.DetectionContent,
		}, nil
	}
	if delim, ok := ProbeDelimiter(data); ok {
		mime := "text/csv"
		if delim == "\t" {
			mime = "text/tab-separated-values"
		}
		return models.Detection{
			Modality:   models.ModalityStructured,
			MIMEType:   mime,
			Extension:  ext,
			Delimiter:  delim,
			Confidence: 0.7,
			Source:     models.DetectionContent,
		}, nil
	}

	// 4. Plain text.
	if utf8.Valid(data) || strings.HasPrefix(sig, "text/") {
		return models.Detection{
			Modality:   models.ModalityText,
			MIMEType:   "text/plain",
			Extension:  ext,
			Confidence: 0.5,
			Source:     models.DetectionContent,
		}, nil
	}
	return models.Detection{Modality: models.ModalityUnknown, MIMEType: sig, Extension: ext},
		apperrors.UnrecognizedAsset("content is neither a known format nor text")
}

func textDetection(data []byte, f format, ext string, source models.DetectionSource, confidence float64) models.Detection {
	det := models.Detection{
		Modality:   f.modality,
		MIMEType:   f.mime,
		Extension:  ext,
		Delimiter:  f.delimiter,
		Confidence: confidence,
		Source:     source,
	}
	if f.modality == models.ModalityStructured && f.delimiter != "" {
		if delim, ok := ProbeDelimiter(data); ok {
			det.Delimiter = delim
		}
	}
	return det
}

// ProbeDelimiter looks for a delimiter that splits the leading records into
// a consistent number of fields (at least two).
func ProbeDelimiter(data []byte) (string, bool) {
	sample := data
	if len(sample) > probeBytes {
		sample = sample[:probeBytes]
		// Drop the partial last line.
		if i := bytes.LastIndexByte(sample, '\n'); i > 0 {
			sample = sample[:i]
		}
	}

	best, bestFields := "", 0
	for _, delim := range Delimiters {
		fields, ok := consistentFields(sample, delim)
		if ok && fields > bestFields {
			best, bestFields = string(delim), fields
		}
	}
	return best, bestFields >= 2
}

func consistentFields(sample []byte, delim rune) (int, bool) {
	r := csv.NewReader(bytes.NewReader(sample))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	fields, records := 0, 0
	for records < probeRecords {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, false
		}
		if records == 0 {
			fields = len(rec)
		} else if len(rec) != fields {
			return 0, false
		}
		records++
	}
	return fields, records >= 2 && fields >= 2
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func lookupSignature(mt *mimetype.MIME) (format, bool) {
	for m := mt; m != nil; m = m.Parent() {
		if f, ok := mimeFormats[baseMIME(m.String())]; ok {
			return f, true
		}
	}
	return format{}, false
}

func lookupDeclared(declared string) (format, bool) {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared == "" {
		return format{}, false
	}
	if strings.Contains(declared, "/") {
		return lookupMIME(baseMIME(declared))
	}
	return lookupMIME(extensionFormats[strings.TrimPrefix(declared, ".")])
}

func lookupMIME(mime string) (format, bool) {
	if mime == "" {
		return format{}, false
	}
	f, ok := mimeFormats[mime]
	return f, ok
}

func isTextFormat(f format) bool {
	if _, container := containerFormats[f.mime]; container {
		return false
	}
	m := f.modality
	return m == models.ModalityStructured || m == models.ModalitySemiStructured || m == models.ModalityText
}

func baseMIME(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(strings.ToLower(s))
}
