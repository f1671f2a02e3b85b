// Package lsa computes latent-semantic-analysis similarity between a
// query document and a shortlist of candidates.
//
// The embedding recall stage finds topically close candidates cheaply at
// scale; this package provides the second, statistically independent
// signal over exactly the shortlisted texts: TF-IDF over {query} ∪
// candidates, truncated SVD down to a handful of latent topics, then
// pairwise cosine similarity in the reduced space.
package lsa

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// MaxTopics caps the truncated-SVD rank.
const MaxTopics = 10

// Matrix is the (N+1)×(N+1) pairwise similarity matrix over the query
// (row/column 0) and N candidates.
type Matrix struct {
	n    int // candidates
	data *mat.Dense
}

// Empty reports whether the matrix has no candidates.
func (m *Matrix) Empty() bool { return m.n == 0 }

// Size returns N+1, the matrix dimension (0 when there are no candidates).
func (m *Matrix) Size() int {
	if m.n == 0 {
		return 0
	}
	return m.n + 1
}

// At returns the raw similarity between documents i and j (query is 0).
func (m *Matrix) At(i, j int) float64 { return m.data.At(i, j) }

// Score returns the query-vs-candidate-i similarity, clamped to [0, 1]
// and rounded to 4 decimal places. LSA cosine can drift slightly outside
// the nominal range through numerical noise.
func (m *Matrix) Score(i int) float64 {
	s := m.data.At(0, i+1)
	if s < 0 {
		s = 0
	} else if s > 1 {
		s = 1
	}
	return math.Round(s*10000) / 10000
}

// Scores returns the per-candidate query similarities in candidate order.
func (m *Matrix) Scores() []float64 {
	out := make([]float64, m.n)
	for i := range out {
		out[i] = m.Score(i)
	}
	return out
}

// Rerank computes the LSA similarity matrix for a query and candidates.
// Zero candidates return an empty matrix the caller must short-circuit
// on. A vocabulary under 2 distinct terms cannot support a meaningful
// decomposition, so the result degrades to the identity matrix: every
// pair scores 0, self-similarity 1.
func Rerank(queryText string, candidateTexts []string, v *Vectorizer) (*Matrix, error) {
	n := len(candidateTexts)
	if n == 0 {
		return &Matrix{}, nil
	}
	if v == nil {
		v = &Vectorizer{}
	}

	docs := append([]string{queryText}, candidateTexts...)
	tm := v.Fit(docs)

	if tm.Terms < 2 {
		return &Matrix{n: n, data: identity(n + 1)}, nil
	}

	var svd mat.SVD
	if !svd.Factorize(tm.Data, mat.SVDThin) {
		return nil, fmt.Errorf("lsa: SVD factorization failed for %d docs × %d terms", tm.Docs, tm.Terms)
	}

	topics := min(MaxTopics, n+1)

	var u mat.Dense
	svd.UTo(&u)
	sigma := svd.Values(nil)
	if len(sigma) < topics {
		topics = len(sigma)
	}

	// Document coordinates in topic space: U_k * Σ_k.
	reduced := mat.NewDense(n+1, topics, nil)
	for i := 0; i < n+1; i++ {
		for k := 0; k < topics; k++ {
			reduced.Set(i, k, u.At(i, k)*sigma[k])
		}
	}

	return &Matrix{n: n, data: pairwiseCosine(reduced)}, nil
}

func identity(size int) *mat.Dense {
	d := mat.NewDense(size, size, nil)
	for i := 0; i < size; i++ {
		d.Set(i, i, 1)
	}
	return d
}

func pairwiseCosine(docs *mat.Dense) *mat.Dense {
	rows, _ := docs.Dims()
	out := mat.NewDense(rows, rows, nil)
	norms := make([]float64, rows)
	for i := 0; i < rows; i++ {
		norms[i] = mat.Norm(docs.RowView(i), 2)
	}
	for i := 0; i < rows; i++ {
		out.Set(i, i, 1)
		for j := i + 1; j < rows; j++ {
			var sim float64
			if norms[i] > 0 && norms[j] > 0 {
				sim = mat.Dot(docs.RowView(i), docs.RowView(j)) / (norms[i] * norms[j])
			}
			out.Set(i, j, sim)
			out.Set(j, i, sim)
		}
	}
	return out
}
