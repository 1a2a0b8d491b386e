// similarity.go: embedding storage and top-k similarity scans
package datastore

import (
	"context"
	"encoding/binary"
	"math"
	"sort"
	"time"
)

// defaultSimilarLimit bounds a similarity query that did not say how
// many neighbors it wants.
const defaultSimilarLimit = 5

// SpeciesMatch is one similarity search hit. Score is cosine similarity
// in [-1, 1], higher is closer.
type SpeciesMatch struct {
	SpeciesID      string  `json:"species_id"`
	ScientificName string  `json:"scientific_name"`
	Score          float64 `json:"score"`
}

// EncodeEmbedding packs a float32 vector into the little-endian byte
// layout of the embedding column.
func EncodeEmbedding(vector []float32) []byte {
	if len(vector) == 0 {
		return nil
	}
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeEmbedding unpacks an embedding column value. A length that is
// not a multiple of four bytes means the column is corrupt.
func DecodeEmbedding(blob []byte) ([]float32, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob)%4 != 0 {
		return nil, validationError("embedding blob length must be a multiple of 4",
			"embedding_bytes", len(blob))
	}
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector, nil
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// A zero-norm vector compares as 0 to everything.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SimilarSpecies streams the embedding column and keeps the k nearest
// catalog entries by cosine similarity. Rows whose embedding is missing
// or has a different dimensionality are skipped, so partial catalog
// imports degrade to fewer results instead of errors.
func (ds *DataStore) SimilarSpecies(ctx context.Context, embedding []float32, k int) ([]SpeciesMatch, error) {
	if len(embedding) == 0 {
		return nil, validationError("query embedding must not be empty",
			"embedding", len(embedding))
	}
	if k <= 0 {
		k = defaultSimilarLimit
	}
	if k > MaxPageLimit {
		k = MaxPageLimit
	}
	start := time.Now()

	rows, err := ds.db(ctx).Model(&Species{}).
		Select("id", "scientific_name", "embedding").
		Where("embedding IS NOT NULL").
		Rows()
	if err != nil {
		return nil, dbError(err, "similar_species", "")
	}
	defer func() { _ = rows.Close() }()

	// Streaming top-k: fill to k, then replace the current worst when a
	// better score shows up. Keeps memory flat over any catalog size.
	matches := make([]SpeciesMatch, 0, k)
	for rows.Next() {
		var id, scientificName string
		var blob []byte
		if err := rows.Scan(&id, &scientificName, &blob); err != nil {
			return nil, dbError(err, "similar_species_scan", "")
		}

		candidate, err := DecodeEmbedding(blob)
		if err != nil || len(candidate) != len(embedding) {
			continue
		}

		score := cosineSimilarity(embedding, candidate)
		switch {
		case len(matches) < k:
			matches = append(matches, SpeciesMatch{
				SpeciesID:      id,
				ScientificName: scientificName,
				Score:          score,
			})
			if len(matches) == k {
				sortMatches(matches)
			}
		case score > matches[k-1].Score:
			matches[k-1] = SpeciesMatch{
				SpeciesID:      id,
				ScientificName: scientificName,
				Score:          score,
			}
			sortMatches(matches)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "similar_species_rows", "")
	}

	sortMatches(matches)

	if ds.metrics != nil {
		ds.metrics.RecordSimilarityDuration(time.Since(start).Seconds())
		ds.metrics.RecordQueryResultSize("similar_species", "species", len(matches))
	}
	return matches, nil
}

func sortMatches(matches []SpeciesMatch) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].SpeciesID < matches[j].SpeciesID
	})
}
