// Package onnx is a recognizer oracle running a token-classification NER
// model (BERT family, WordPiece vocabulary, BIO labels) on ONNX Runtime.
//
// The model directory holds model.onnx, vocab.txt and the Hugging Face
// config.json carrying id2label.
package onnx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/anonymizer/internal/recognizer"
	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// EnvSharedLibrary overrides the ONNX Runtime shared library location.
const EnvSharedLibrary = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

const defaultSeqLen = 128

// Config locates the model and runtime.
type Config struct {
	ModelDir    string
	LibraryPath string // falls back to EnvSharedLibrary
	SeqLen      int    // tokens per window including [CLS]/[SEP]; zero means 128
	LowerCase   bool   // uncased vocabularies
	Threads     int    // intra-op threads; zero lets the runtime decide
}

// Model implements recognizer.Oracle. One session is shared and guarded by a
// mutex because its input and output tensors are bound at creation.
type Model struct {
	mu        sync.Mutex
	tokenizer *Tokenizer
	labels    []string
	seqLen    int

	session   *ort.AdvancedSession
	inputIDs  *ort.Tensor[int64]
	attention *ort.Tensor[int64]
	tokenType *ort.Tensor[int64]
	output    *ort.Tensor[float32]

	log *zap.Logger
}

var _ recognizer.Oracle = (*Model)(nil)

// Load initializes the runtime environment once and creates the session.
func Load(cfg Config, log *zap.Logger) (*Model, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ModelDir == "" {
		return nil, errors.New("onnx: model_dir is empty")
	}
	seqLen := cfg.SeqLen
	if seqLen <= 0 {
		seqLen = defaultSeqLen
	}
	if seqLen < 3 {
		return nil, fmt.Errorf("onnx: seq_len %d too small", seqLen)
	}

	tok, err := LoadTokenizer(filepath.Join(cfg.ModelDir, "vocab.txt"), cfg.LowerCase)
	if err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}
	labels, err := loadLabels(filepath.Join(cfg.ModelDir, "config.json"))
	if err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}

	libPath := cfg.LibraryPath
	if libPath == "" {
		libPath = os.Getenv(EnvSharedLibrary)
	}
	if libPath == "" {
		return nil, fmt.Errorf("onnx: runtime shared library not found; set %s or recognizer.onnx.library_path", EnvSharedLibrary)
	}
	ort.SetSharedLibraryPath(libPath)
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
		}
	}

	m := &Model{tokenizer: tok, labels: labels, seqLen: seqLen, log: log.Named("onnx")}
	if err := m.newSession(filepath.Join(cfg.ModelDir, "model.onnx"), cfg.Threads); err != nil {
		_ = m.Close()
		return nil, err
	}
	m.log.Info("model loaded", zap.String("dir", cfg.ModelDir), zap.Int("labels", len(labels)), zap.Int("seq_len", seqLen))
	return m, nil
}

func (m *Model) newSession(modelPath string, threads int) error {
	inputs, outputs, err := ort.GetInputOutputInfoWithOptions(modelPath, nil)
	if err != nil {
		return fmt.Errorf("onnx: inspect model: %w", err)
	}
	if len(outputs) == 0 {
		return errors.New("onnx: model has no outputs")
	}
	outputName := outputs[0].Name
	for _, o := range outputs {
		if strings.EqualFold(o.Name, "logits") {
			outputName = o.Name
		}
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("onnx: session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return fmt.Errorf("onnx: set graph optimization: %w", err)
	}
	if threads > 0 {
		if err := opts.SetIntraOpNumThreads(threads); err != nil {
			return fmt.Errorf("onnx: set intra threads: %w", err)
		}
	}

	shape := ort.NewShape(1, int64(m.seqLen))
	if m.inputIDs, err = ort.NewEmptyTensor[int64](shape); err != nil {
		return fmt.Errorf("onnx: allocate input_ids: %w", err)
	}
	if m.attention, err = ort.NewEmptyTensor[int64](shape); err != nil {
		return fmt.Errorf("onnx: allocate attention_mask: %w", err)
	}
	inputNames := []string{"input_ids", "attention_mask"}
	inputValues := []ort.Value{m.inputIDs, m.attention}
	for _, in := range inputs {
		if in.Name == "token_type_ids" {
			if m.tokenType, err = ort.NewEmptyTensor[int64](shape); err != nil {
				return fmt.Errorf("onnx: allocate token_type_ids: %w", err)
			}
			inputNames = append(inputNames, in.Name)
			inputValues = append(inputValues, m.tokenType)
		}
	}
	if m.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(m.seqLen), int64(len(m.labels)))); err != nil {
		return fmt.Errorf("onnx: allocate output: %w", err)
	}

	m.session, err = ort.NewAdvancedSession(modelPath, inputNames, []string{outputName}, inputValues, []ort.Value{m.output}, opts)
	if err != nil {
		return fmt.Errorf("onnx: create session: %w", err)
	}
	return nil
}

// Recognize runs the model over text in windows of seqLen tokens. The
// language is not used: the model's vocabulary decides what it can read.
func (m *Model) Recognize(ctx context.Context, text, _ string) ([]types.Span, error) {
	var spans []types.Span
	for _, window := range m.tokenizer.windows(text, m.seqLen-2) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrRecognitionFailure, err)
		}
		labels, err := m.run(window)
		if err != nil {
			return nil, fmt.Errorf("%w: onnx: %v", types.ErrRecognitionFailure, err)
		}
		spans = append(spans, decodeBIO(text, window, labels)...)
	}
	return spans, nil
}

func (m *Model) run(window []piece) ([]tokenLabel, error) {
	ids, attn := m.tokenizer.encode(window, m.seqLen)

	m.mu.Lock()
	defer m.mu.Unlock()

	copy(m.inputIDs.GetData(), ids)
	copy(m.attention.GetData(), attn)
	if m.tokenType != nil {
		clear(m.tokenType.GetData())
	}
	if err := m.session.Run(); err != nil {
		return nil, err
	}
	return argmax(m.output.GetData(), len(m.labels), m.labels, len(window)), nil
}

// Close releases the session and tensors.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		_ = m.session.Destroy()
		m.session = nil
	}
	for _, t := range []*ort.Tensor[int64]{m.inputIDs, m.attention, m.tokenType} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	if m.output != nil {
		_ = m.output.Destroy()
	}
	m.inputIDs, m.attention, m.tokenType, m.output = nil, nil, nil, nil
	return nil
}

// loadLabels reads id2label from a Hugging Face config.json and returns the
// labels ordered by ID.
func loadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	var cfg struct {
		ID2Label map[string]string `json:"id2label"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if len(cfg.ID2Label) == 0 {
		return nil, fmt.Errorf("%s has no id2label", filepath.Base(path))
	}

	ids := make([]int, 0, len(cfg.ID2Label))
	byID := make(map[int]string, len(cfg.ID2Label))
	for k, v := range cfg.ID2Label {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("bad label id %q", k)
		}
		ids = append(ids, id)
		byID[id] = v
	}
	sort.Ints(ids)
	labels := make([]string, len(ids))
	for i, id := range ids {
		if id != i {
			return nil, fmt.Errorf("label ids are not contiguous at %d", i)
		}
		labels[i] = byID[id]
	}
	return labels, nil
}
