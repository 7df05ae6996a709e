package models

import (
	"errors"
	"path"
	"slices"
	"strings"
)

// Modality is the structural kind of an asset.
type Modality string

const (
	ModalityStructured     Modality = "structured"
	ModalitySemiStructured Modality = "semi-structured"
	ModalityText           Modality = "text"
	ModalityImage          Modality = "image"
	ModalityAudio          Modality = "audio"
	ModalityVideo          Modality = "video"
	ModalityArchive        Modality = "archive"
	ModalityUnknown        Modality = "unknown"
)

// AnalyzableModalities lists every modality an analyzer exists for.
var AnalyzableModalities = []Modality{
	ModalityStructured,
	ModalitySemiStructured,
	ModalityText,
	ModalityImage,
	ModalityAudio,
	ModalityVideo,
	ModalityArchive,
}

// IsAnalyzable reports whether m names a modality with an analyzer.
func (m Modality) IsAnalyzable() bool {
	return slices.Contains(AnalyzableModalities, m)
}

// DetectionSource records which evidence decided a detection.
type DetectionSource string

const (
	DetectionDeclared  DetectionSource = "declared"
	DetectionSignature DetectionSource = "signature"
	DetectionExtension DetectionSource = "extension"
	DetectionContent   DetectionSource = "content"
)

// Detection is the Type Detector's verdict for one asset.
type Detection struct {
	Modality   Modality        `json:"modality"`
	MIMEType   string          `json:"mimeType"`
	Extension  string          `json:"extension,omitempty"`
	Delimiter  string          `json:"delimiter,omitempty"`
	Confidence float64         `json:"confidence"`
	Source     DetectionSource `json:"source"`
}

// Asset is an immutable reference to raw input data.
type Asset struct {
	Location     string `json:"location"`
	Filename     string `json:"filename,omitempty"`
	DeclaredType string `json:"declaredType,omitempty"`
	Name         string `json:"name,omitempty"`
}

// Validate checks that the asset can be fetched.
func (a Asset) Validate() error {
	if strings.TrimSpace(a.Location) == "" {
		return errors.New("asset location is required")
	}
	return nil
}

// DisplayName returns the best human-readable name for the asset.
func (a Asset) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.FileName()
}

// FileName returns the filename used for extension-based detection.
func (a Asset) FileName() string {
	if a.Filename != "" {
		return a.Filename
	}
	loc := a.Location
	if i := strings.IndexAny(loc, "?#"); i >= 0 {
		loc = loc[:i]
	}
	return path.Base(loc)
}
