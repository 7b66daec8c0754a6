package onnx

import (
	"math"
	"strings"

	"github.com/mesh-intelligence/anonymizer/internal/recognizer"
	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// tokenLabel is the arg-max label of one piece and its softmax probability.
type tokenLabel struct {
	label string
	prob  float32
}

// argmax picks the best label for each piece from row-major logits laid out
// as [seqLen][numLabels]; piece i sits at row i+1 after [CLS].
func argmax(logits []float32, numLabels int, labels []string, n int) []tokenLabel {
	out := make([]tokenLabel, n)
	for i := 0; i < n; i++ {
		base := (i + 1) * numLabels
		if base+numLabels > len(logits) {
			break
		}
		row := logits[base : base+numLabels]
		best := 0
		for j := range row {
			if row[j] > row[best] {
				best = j
			}
		}
		out[i] = tokenLabel{prob: softmaxAt(row, best)}
		if best < len(labels) {
			out[i].label = labels[best]
		}
	}
	return out
}

func softmaxAt(row []float32, idx int) float32 {
	maxV := row[0]
	for _, v := range row {
		if v > maxV {
			maxV = v
		}
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v - maxV))
	}
	return float32(math.Exp(float64(row[idx]-maxV)) / sum)
}

func splitLabel(lbl string) (string, string) {
	lbl = strings.TrimSpace(lbl)
	if lbl == "" || strings.EqualFold(lbl, "O") {
		return "", ""
	}
	prefix, typ, ok := strings.Cut(lbl, "-")
	if !ok {
		return "", lbl
	}
	return strings.ToUpper(prefix), typ
}

// decodeBIO groups labelled pieces into entity spans. Continuation pieces
// always join the entity of their word. Confidence is the mean piece
// probability. Labels without an entity type mapping are dropped.
func decodeBIO(text string, ps []piece, labels []tokenLabel) []types.Span {
	type entity struct {
		typ        string
		start, end int
		probSum    float64
		n          int
	}
	var (
		out []types.Span
		cur *entity
	)
	flush := func() {
		if cur == nil {
			return
		}
		if et, ok := recognizer.MapLabel(cur.typ); ok {
			out = append(out, types.Span{
				Start:      cur.start,
				End:        cur.end,
				Text:       text[cur.start:cur.end],
				EntityType: et,
				Confidence: cur.probSum / float64(cur.n),
				Source:     types.SourceModel,
			})
		}
		cur = nil
	}

	for i, p := range ps {
		if i >= len(labels) {
			break
		}
		if p.continuation && cur != nil && cur.end == p.start {
			cur.end = p.end
			cur.probSum += float64(labels[i].prob)
			cur.n++
			continue
		}
		prefix, typ := splitLabel(labels[i].label)
		if typ == "" {
			flush()
			continue
		}
		if prefix == "B" || cur == nil || !strings.EqualFold(cur.typ, typ) {
			flush()
			cur = &entity{typ: typ, start: p.start, end: p.end, probSum: float64(labels[i].prob), n: 1}
			continue
		}
		cur.end = p.end
		cur.probSum += float64(labels[i].prob)
		cur.n++
	}
	flush()
	return out
}
