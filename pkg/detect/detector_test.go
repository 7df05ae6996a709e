package detect

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
	"github.com/ekaya-inc/edp-engine/pkg/models"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.SetGray(1, 1, color.Gray{Y: 200})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDetect_SignatureWins(t *testing.T) {
	d := New(zap.NewNop())
	data := pngBytes(t)

	det, err := d.Detect(data, "photo.png", "")
	require.NoError(t, err)
	assert.Equal(t, models.ModalityImage, det.Modality)
	assert.Equal(t, models.DetectionSignature, det.Source)
	assert.Equal(t, 1.0, det.Confidence)

	// A misleading extension does not override the signature.
	det, err = d.Detect(data, "table.csv", "text/csv")
	require.NoError(t, err)
	assert.Equal(t, models.ModalityImage, det.Modality)
	assert.Equal(t, 0.9, det.Confidence)
}

func TestDetect_DelimitedProbe(t *testing.T) {
	d := New(zap.NewNop())

	tests := []struct {
		name  string
		data  string
		delim string
	}{
		{"comma", "a,b,c\n1,2,3\n4,5,6\n", ","},
		{"semicolon", "a;b;c\n1,5;2;3\n4;5;6\n", ";"},
		{"tab", "a\tb\n1\t2\n3\t4\n", "\t"},
		{"pipe", "a|b|c\n1|2|3\n", "|"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, err := d.Detect([]byte(tt.data), "", "")
			require.NoError(t, err)
			assert.Equal(t, models.ModalityStructured, det.Modality)
			assert.Equal(t, tt.delim, det.Delimiter)
		})
	}
}

func TestDetect_ExtensionForTextContent(t *testing.T) {
	d := New(zap.NewNop())

	det, err := d.Detect([]byte("x;y\n1;2\n3;4\n"), "data.csv", "")
	require.NoError(t, err)
	assert.Equal(t, models.ModalityStructured, det.Modality)
	assert.Equal(t, models.DetectionExtension, det.Source)
	assert.Equal(t, ";", det.Delimiter)

	det, err = d.Detect([]byte("just some words\n"), "notes", "txt")
	require.NoError(t, err)
	assert.Equal(t, models.ModalityText, det.Modality)
	assert.Equal(t, models.DetectionDeclared, det.Source)
}

func TestDetect_JSONAndText(t *testing.T) {
	d := New(zap.NewNop())

	det, err := d.Detect([]byte(`[{"a": 1}, {"a": 2}]`), "", "")
	require.NoError(t, err)
	assert.Equal(t, models.ModalitySemiStructured, det.Modality)

	det, err = d.Detect([]byte("The quick brown fox jumps over the lazy dog.\nIt was a sunny day.\n"), "", "")
	require.NoError(t, err)
	assert.Equal(t, models.ModalityText, det.Modality)
	assert.Equal(t, models.DetectionContent, det.Source)
}

func TestDetect_Unrecognized(t *testing.T) {
	d := New(zap.NewNop())

	blobs := map[string][]byte{
		"binary blob": {0x00, 0x01, 0x02, 0x03, 0xde, 0xad, 0xbe, 0xef, 0x00, 0x10},
		"empty":       {},
		"pdf":         []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\n"),
	}
	for name, data := range blobs {
		t.Run(name, func(t *testing.T) {
			_, err := d.Detect(data, "", "")
			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, apperrors.KindUnrecognizedAsset), "got %v", err)
		})
	}
}

func TestProbeDelimiter_InconsistentRows(t *testing.T) {
	_, ok := ProbeDelimiter([]byte("a,b,c\n1,2\n3,4,5,6\n"))
	assert.False(t, ok)

	_, ok = ProbeDelimiter([]byte("single column\nonly\n"))
	assert.False(t, ok)
}
