package lsa

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/kljensen/snowball"
	"gonum.org/v1/gonum/mat"
)

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// Vectorizer builds term-frequency/inverse-document-frequency vectors
// over a small corpus. When Language names a supported snowball stemmer,
// terms are stemmed so inflected forms share a vocabulary slot.
type Vectorizer struct {
	// Language selects the snowball stemmer ("english", "french", ...).
	// Unsupported or empty values keep raw tokens.
	Language string
}

// TermMatrix is a dense document×term TF-IDF matrix with L2-normalized
// rows, one row per input document.
type TermMatrix struct {
	Docs  int
	Terms int
	Data  *mat.Dense
}

// Fit tokenizes docs, builds the vocabulary with smoothed IDF weights,
// and returns the TF-IDF matrix. A corpus whose vocabulary is empty
// yields a matrix with zero term columns.
func (v *Vectorizer) Fit(docs []string) *TermMatrix {
	tokenized := make([][]string, len(docs))
	df := make(map[string]int)
	for i, doc := range docs {
		tokenized[i] = v.tokenize(doc)
		seen := make(map[string]struct{})
		for _, tok := range tokenized[i] {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}

	// Stable vocabulary ordering keeps the matrix deterministic.
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	if len(terms) == 0 {
		return &TermMatrix{Docs: len(docs)}
	}

	vocab := make(map[string]int, len(terms))
	idf := make([]float64, len(terms))
	n := float64(len(docs))
	for i, term := range terms {
		vocab[term] = i
		idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}

	data := mat.NewDense(len(docs), len(terms), nil)
	for i, tokens := range tokenized {
		tf := make(map[int]int)
		for _, tok := range tokens {
			tf[vocab[tok]]++
		}
		if len(tokens) == 0 {
			continue
		}
		var norm float64
		row := make([]float64, len(terms))
		for idx, count := range tf {
			w := float64(count) / float64(len(tokens)) * idf[idx]
			row[idx] = w
			norm += w * w
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for idx := range row {
				row[idx] /= norm
			}
		}
		data.SetRow(i, row)
	}

	return &TermMatrix{Docs: len(docs), Terms: len(terms), Data: data}
}

func (v *Vectorizer) tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	if v.Language == "" {
		return raw
	}
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		if stemmed, err := snowball.Stem(tok, v.Language, true); err == nil && stemmed != "" {
			out = append(out, stemmed)
		} else {
			out = append(out, tok)
		}
	}
	return out
}
