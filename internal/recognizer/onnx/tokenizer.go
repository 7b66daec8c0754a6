package onnx

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenizer is a BERT WordPiece tokenizer that keeps byte offsets into the
// original text for every piece.
type Tokenizer struct {
	vocab     map[string]int64
	lowerCase bool
	clsID     int64
	sepID     int64
	padID     int64
	unkID     int64
}

// piece is one word piece with its byte range in the source text.
type piece struct {
	id           int64
	start, end   int
	continuation bool // "##" piece inside a word
}

// word is a pre-tokenized unit: a whitespace-free run or a single punctuation rune.
type word struct {
	start, end int
}

// LoadTokenizer reads a vocab.txt file, one token per line, line number as ID.
func LoadTokenizer(path string, lowerCase bool) (*Tokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	var id int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		vocab[strings.TrimRight(scanner.Text(), "\r")] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	return newTokenizer(vocab, lowerCase)
}

func newTokenizer(vocab map[string]int64, lowerCase bool) (*Tokenizer, error) {
	t := &Tokenizer{vocab: vocab, lowerCase: lowerCase}
	for _, special := range []struct {
		token string
		dst   *int64
	}{
		{"[CLS]", &t.clsID},
		{"[SEP]", &t.sepID},
		{"[PAD]", &t.padID},
		{"[UNK]", &t.unkID},
	} {
		id, ok := vocab[special.token]
		if !ok {
			return nil, fmt.Errorf("vocab has no %s token", special.token)
		}
		*special.dst = id
	}
	return t, nil
}

// splitWords splits on whitespace and isolates punctuation and symbols, the
// way BERT's basic tokenizer does.
func splitWords(text string) []word {
	var words []word
	start := -1
	flush := func(end int) {
		if start >= 0 {
			words = append(words, word{start: start, end: end})
			start = -1
		}
	}
	for i, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush(i)
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush(i)
			words = append(words, word{start: i, end: i + utf8.RuneLen(r)})
		default:
			if start < 0 {
				start = i
			}
		}
	}
	flush(len(text))
	return words
}

// pieces splits one word of text into word pieces. A word with no
// segmentation becomes a single [UNK] piece covering the word.
func (t *Tokenizer) pieces(text string, w word) []piece {
	token := text[w.start:w.end]
	if t.lowerCase {
		// Offsets are taken from the lowered string, so only lower when it
		// keeps the byte length.
		if lower := strings.ToLower(token); len(lower) == len(token) {
			token = lower
		}
	}

	var out []piece
	start := 0
	for start < len(token) {
		end := len(token)
		found := false
		for end > start {
			sub := token[start:end]
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.vocab[sub]; ok {
				out = append(out, piece{id: id, start: w.start + start, end: w.start + end, continuation: start > 0})
				start = end
				found = true
				break
			}
			end--
		}
		if !found {
			return []piece{{id: t.unkID, start: w.start, end: w.end}}
		}
	}
	return out
}

// windows tokenizes text into consecutive windows of at most maxPieces
// pieces. Words are never split across windows unless a single word is
// longer than a window, in which case its tail is dropped.
func (t *Tokenizer) windows(text string, maxPieces int) [][]piece {
	var out [][]piece
	var cur []piece
	for _, w := range splitWords(text) {
		ps := t.pieces(text, w)
		if len(ps) > maxPieces {
			ps = ps[:maxPieces]
		}
		if len(cur)+len(ps) > maxPieces {
			out = append(out, cur)
			cur = nil
		}
		cur = append(cur, ps...)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// encode lays out [CLS] pieces [SEP] [PAD]... into seqLen input IDs and the
// matching attention mask. Position i+1 holds piece i.
func (t *Tokenizer) encode(ps []piece, seqLen int) ([]int64, []int64) {
	ids := make([]int64, seqLen)
	attn := make([]int64, seqLen)
	for i := range ids {
		ids[i] = t.padID
	}
	ids[0], attn[0] = t.clsID, 1
	for i, p := range ps {
		ids[i+1], attn[i+1] = p.id, 1
	}
	ids[len(ps)+1], attn[len(ps)+1] = t.sepID, 1
	return ids, attn
}
