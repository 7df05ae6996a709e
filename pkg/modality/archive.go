package modality

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
	"github.com/ekaya-inc/edp-engine/pkg/config"
	"github.com/ekaya-inc/edp-engine/pkg/models"
)

// ArchiveAnalyzer expands zip, gzip and tar containers and delegates every
// entry to the analyzer its content is detected as.
type ArchiveAnalyzer struct {
	registry *Registry
	logger   *zap.Logger
}

// NewArchiveAnalyzer creates an ArchiveAnalyzer.
func NewArchiveAnalyzer(registry *Registry, logger *zap.Logger) *ArchiveAnalyzer {
	return &ArchiveAnalyzer{
		registry: registry,
		logger:   logger.Named("archive"),
	}
}

type archiveEntry struct {
	name string
	data []byte
}

// Analyze expands the archive within the configured bounds. Entries that
// cannot be analyzed degrade; an archive without a single analyzable entry
// fails.
func (a *ArchiveAnalyzer) Analyze(ctx context.Context, in *Input) (*models.AnalysisResult, error) {
	cfg := in.Config.Archive
	if in.Depth >= cfg.MaxDepth {
		return nil, apperrors.Analyzer(nil, "archive nesting deeper than %d levels", cfg.MaxDepth)
	}

	var (
		format  string
		entries []archiveEntry
		total   int64
		err     error
	)
	switch in.Detection.MIMEType {
	case "application/zip":
		format = "zip"
		entries, total, err = readZip(in.Data, cfg)
	case "application/x-tar":
		format = "tar"
		entries, total, err = readTar(bytes.NewReader(in.Data), cfg)
	case "application/gzip":
		format, entries, total, err = readGzip(in.Name, in.Data, cfg)
	default:
		return nil, apperrors.Analyzer(nil, "unsupported archive format %s", in.Detection.MIMEType)
	}
	if err != nil {
		return nil, apperrors.Analyzer(err, "expand %s", in.Name)
	}

	res := &models.AnalysisResult{
		Name:     in.Name,
		Modality: models.ModalityArchive,
		Summary: &models.ArchiveSummary{
			Format:            format,
			EntryCount:        len(entries),
			UncompressedBytes: total,
		},
	}

	analyzed := 0
	for _, e := range entries {
		child, err := a.registry.Delegate(ctx, in, childName(in.Name, e.name), e.data, nil)
		if err != nil {
			return nil, err
		}
		if child.Failure == nil {
			analyzed++
		}
		res.Children = append(res.Children, child)
	}
	if analyzed == 0 {
		return nil, apperrors.Analyzer(nil, "%s contains no analyzable entry", in.Name)
	}

	a.logger.Debug("Archive expanded",
		zap.String("dataset", in.Name),
		zap.String("format", format),
		zap.Int("entries", len(entries)),
		zap.Int("analyzed", analyzed))
	return res, nil
}

var errTooLarge = errors.New("uncompressed size exceeds limit")

// budget tracks the uncompressed bytes an archive may still expand to.
type budget struct {
	remaining int64
	used      int64
}

func (b *budget) read(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, b.remaining+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > b.remaining {
		return nil, errTooLarge
	}
	b.remaining -= int64(len(data))
	b.used += int64(len(data))
	return data, nil
}

func readZip(data []byte, cfg config.ArchiveConfig) ([]archiveEntry, int64, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, 0, err
	}

	b := &budget{remaining: cfg.MaxUncompressedBytes}
	var entries []archiveEntry
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || skipEntry(f.Name) {
			continue
		}
		if len(entries) >= cfg.MaxEntries {
			break
		}
		if f.UncompressedSize64 > uint64(b.remaining) {
			return nil, 0, errTooLarge
		}
		rc, err := f.Open()
		if err != nil {
			return nil, 0, err
		}
		content, err := b.read(rc)
		rc.Close()
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, archiveEntry{name: f.Name, data: content})
	}
	return entries, b.used, nil
}

func readTar(r io.Reader, cfg config.ArchiveConfig) ([]archiveEntry, int64, error) {
	tr := tar.NewReader(r)
	b := &budget{remaining: cfg.MaxUncompressedBytes}
	var entries []archiveEntry
	for len(entries) < cfg.MaxEntries {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		if hdr.Typeflag != tar.TypeReg || skipEntry(hdr.Name) {
			continue
		}
		content, err := b.read(tr)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, archiveEntry{name: hdr.Name, data: content})
	}
	return entries, b.used, nil
}

// readGzip decompresses a single member; a tarball inside is expanded.
func readGzip(name string, data []byte, cfg config.ArchiveConfig) (string, []archiveEntry, int64, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", nil, 0, err
	}
	defer zr.Close()

	b := &budget{remaining: cfg.MaxUncompressedBytes}
	content, err := b.read(zr)
	if err != nil {
		return "", nil, 0, err
	}

	if isTar(content) {
		entries, total, err := readTar(bytes.NewReader(content), cfg)
		return "tar.gz", entries, total, err
	}

	inner := zr.Name
	if inner == "" {
		base := path.Base(name)
		switch {
		case strings.HasSuffix(base, ".tgz"):
			inner = strings.TrimSuffix(base, ".tgz") + ".tar"
		default:
			inner = strings.TrimSuffix(base, ".gz")
		}
	}
	return "gzip", []archiveEntry{{name: inner, data: content}}, b.used, nil
}

// isTar checks the ustar magic of the first header block.
func isTar(data []byte) bool {
	return len(data) >= 262 && string(data[257:262]) == "ustar"
}

// skipEntry drops metadata files archivers add next to the content.
func skipEntry(name string) bool {
	base := path.Base(name)
	return strings.HasPrefix(name, "__MACOSX/") || base == ".DS_Store"
}
