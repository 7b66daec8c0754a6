package onnx

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

func TestArgmax(t *testing.T) {
	labels := []string{"O", "B-PER"}
	logits := []float32{
		0, 0, // [CLS]
		0, 2,
		3, 0,
	}
	got := argmax(logits, 2, labels, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "B-PER", got[0].label)
	assert.InDelta(t, math.Exp(2)/(1+math.Exp(2)), float64(got[0].prob), 1e-5)
	assert.Equal(t, "O", got[1].label)
}

func TestDecodeBIO(t *testing.T) {
	tok := loadTestTokenizer(t)
	text := "John Smith lives in Berlin."
	ws := tok.windows(text, 64)
	require.Len(t, ws, 1)
	require.Len(t, ws[0], 7)

	labels := []tokenLabel{
		{"B-PER", 0.9},
		{"I-PER", 0.7},
		{"O", 0.99},
		{"O", 0.99},
		{"B-LOC", 0.8},
		{"O", 0.6}, // continuation piece joins its word
		{"O", 0.99},
	}
	got := decodeBIO(text, ws[0], labels)
	require.Len(t, got, 2)

	assert.Equal(t, "John Smith", got[0].Text)
	assert.Equal(t, types.EntityPerson, got[0].EntityType)
	assert.InDelta(t, 0.8, got[0].Confidence, 1e-6)
	assert.Equal(t, types.SourceModel, got[0].Source)

	assert.Equal(t, "Berlin", got[1].Text)
	assert.Equal(t, 20, got[1].Start)
	assert.Equal(t, 26, got[1].End)
	assert.Equal(t, types.EntityLocation, got[1].EntityType)
	assert.InDelta(t, 0.7, got[1].Confidence, 1e-6)
}

func TestDecodeBIO_UnmappedAndTypeChange(t *testing.T) {
	tok := loadTestTokenizer(t)
	text := "John Smith lives"
	ps := tok.windows(text, 64)[0]

	got := decodeBIO(text, ps, []tokenLabel{
		{"B-MISC", 0.9},
		{"I-PER", 0.9},
		{"I-PER", 0.5},
	})
	require.Len(t, got, 1)
	assert.Equal(t, "Smith lives", got[0].Text)
	assert.Equal(t, types.EntityPerson, got[0].EntityType)
}

func TestLoadLabels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	require.NoError(t, os.WriteFile(path, []byte(`{"id2label":{"1":"B-PER","0":"O","2":"I-PER"}}`), 0o644))
	labels, err := loadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"O", "B-PER", "I-PER"}, labels)

	require.NoError(t, os.WriteFile(path, []byte(`{"id2label":{"0":"O","2":"I-PER"}}`), 0o644))
	_, err = loadLabels(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))
	_, err = loadLabels(path)
	assert.Error(t, err)
}
