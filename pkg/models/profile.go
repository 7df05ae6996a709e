package models

import "time"

// SchemaVersion is the version of the profile document layout.
const SchemaVersion = "1.0.0"

// Profile is the Extended Dataset Profile of one asset. It is written once
// by the assembler and read-only afterwards.
type Profile struct {
	SchemaVersion string     `json:"schemaVersion"`
	GeneratedBy   string     `json:"generatedBy"`
	AssetID       string     `json:"assetId"`
	Name          string     `json:"name"`
	AssetSHA256   string     `json:"assetSha256Hash"`
	Volume        int64      `json:"volume"`
	Detection     Detection  `json:"detection"`
	DataTypes     []Modality `json:"dataTypes"`
	Created       time.Time  `json:"created"`
	Updated       time.Time  `json:"updated"`

	TemporalCover *TemporalCover `json:"temporalCover,omitempty"`
	Periodicity   string         `json:"periodicity,omitempty"`

	StructuredDatasets     []*StructuredSummary     `json:"structuredDatasets"`
	SemiStructuredDatasets []*SemiStructuredSummary `json:"semiStructuredDatasets"`
	TextDatasets           []*TextSummary           `json:"unstructuredTextDatasets"`
	ImageDatasets          []*ImageSummary          `json:"imageDatasets"`
	AudioDatasets          []*AudioSummary          `json:"audioDatasets"`
	VideoDatasets          []*VideoSummary          `json:"videoDatasets"`
	ArchiveDatasets        []*ArchiveSummary        `json:"archiveDatasets"`

	DatasetTree         []DatasetTreeNode    `json:"datasetTree"`
	UnavailableSections []UnavailableSection `json:"unavailableSections,omitempty"`
}

// DatasetTreeNode places one dataset in the asset hierarchy. Dataset and
// Parent are JSON pointers into the profile document.
type DatasetTreeNode struct {
	Name     string   `json:"name"`
	Modality Modality `json:"modality"`
	Dataset  string   `json:"dataset"`
	Parent   string   `json:"parent,omitempty"`
}

// UnavailableSection records a secondary dataset whose analyzer failed.
type UnavailableSection struct {
	Name     string   `json:"name"`
	Modality Modality `json:"modality"`
	Parent   string   `json:"parent,omitempty"`
	Kind     string   `json:"kind"`
	Message  string   `json:"message"`
}

// ============================================================================
// Modality summaries
// ============================================================================

// ModalitySummary is the typed output of one modality analyzer.
type ModalitySummary interface {
	Modality() Modality
}

// StructuredSummary describes one table.
type StructuredSummary struct {
	RowCount         int                `json:"rowCount"`
	ColumnCount      int                `json:"columnCount"`
	Columns          []Column           `json:"columns"`
	Correlation      *CorrelationMatrix `json:"correlation,omitempty"`
	CorrelationGraph string             `json:"correlationGraph,omitempty"`
	DatetimeIndex    string             `json:"datetimeIndex,omitempty"`
	TemporalCover    *TemporalCover     `json:"temporalCover,omitempty"`
	Periodicity      string             `json:"periodicity,omitempty"`
}

func (*StructuredSummary) Modality() Modality { return ModalityStructured }

// Column returns the named column, or nil.
func (s *StructuredSummary) Column(name string) *Column {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return &s.Columns[i]
		}
	}
	return nil
}

// SemiStructuredSummary describes a JSON document; its tables are child datasets.
type SemiStructuredSummary struct {
	Format     string `json:"format"`
	TableCount int    `json:"tableCount"`
	MaxDepth   int    `json:"maxDepth"`
}

func (*SemiStructuredSummary) Modality() Modality { return ModalitySemiStructured }

// LanguageShare counts the sentences identified as one language (ISO 639-3).
type LanguageShare struct {
	Code      string `json:"code"`
	Sentences int    `json:"sentences"`
}

// TextSummary describes unstructured text.
type TextSummary struct {
	Encoding  string          `json:"encoding"`
	LineCount int             `json:"lineCount"`
	WordCount int             `json:"wordCount"`
	Languages []LanguageShare `json:"languages"`
}

func (*TextSummary) Modality() Modality { return ModalityText }

// ImageSummary describes one image.
type ImageSummary struct {
	Codec       string  `json:"codec"`
	ColorMode   string  `json:"colorMode"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Brightness  float64 `json:"brightness"`
	Contrast    float64 `json:"contrast"`
	LowContrast bool    `json:"lowContrast"`
	Sharpness   float64 `json:"sharpness"`
}

func (*ImageSummary) Modality() Modality { return ModalityImage }

// AudioSummary describes one audio stream.
type AudioSummary struct {
	Codec      string  `json:"codec"`
	Channels   int     `json:"channels"`
	SampleRate int     `json:"sampleRate"`
	BitDepth   int     `json:"bitDepth,omitempty"`
	Duration   float64 `json:"durationSeconds"`
	PeakLevel  float64 `json:"peakLevel,omitempty"`
	RMSLevel   float64 `json:"rmsLevel,omitempty"`
}

func (*AudioSummary) Modality() Modality { return ModalityAudio }

// VideoSummary describes one video container.
type VideoSummary struct {
	Container   string  `json:"container"`
	Codec       string  `json:"codec"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FPS         float64 `json:"fps"`
	Duration    float64 `json:"durationSeconds"`
	AudioTracks int     `json:"audioTracks"`
}

func (*VideoSummary) Modality() Modality { return ModalityVideo }

// ArchiveSummary describes a compressed container; entries are child datasets.
type ArchiveSummary struct {
	Format            string `json:"format"`
	EntryCount        int    `json:"entryCount"`
	UncompressedBytes int64  `json:"uncompressedBytes"`
}

func (*ArchiveSummary) Modality() Modality { return ModalityArchive }

// ============================================================================
// Analyzer output
// ============================================================================

// ArtifactKind classifies stored artifacts.
type ArtifactKind string

const (
	ArtifactDistributionGraph ArtifactKind = "distribution_graph"
	ArtifactCorrelationGraph  ArtifactKind = "correlation_graph"
	ArtifactTrendSeries       ArtifactKind = "trend_series"
	ArtifactSeasonalSeries    ArtifactKind = "seasonal_series"
)

// Artifact is a back-reference from a profile element to externally stored data.
// Subject names the column it belongs to; Period names the seasonal component.
type Artifact struct {
	Ref     string       `json:"ref"`
	Kind    ArtifactKind `json:"kind"`
	Subject string       `json:"subject,omitempty"`
	Period  string       `json:"period,omitempty"`
}

// Failure is a degraded secondary analysis.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// AnalysisResult is the output of one analyzer run, with nested datasets
// produced by delegation. Exactly one of Summary and Failure is set.
type AnalysisResult struct {
	Name      string
	Modality  Modality
	Summary   ModalitySummary
	Artifacts []Artifact
	Failure   *Failure
	Children  []*AnalysisResult
}
