package storage

import (
	"sort"

	"github.com/zeebo/xxh3"

	"github.com/vjranagit/empe/pkg/types"
)

// Well-known label names indexed for every run
const (
	LabelEvent = "event"
	LabelModel = "model"
)

// Index is the in-memory run index. It is rebuilt from the run metadata
// keys when a store is opened.
type Index struct {
	// Maps run fingerprint to metadata
	runs map[uint64]types.RunMeta
	// Inverted index: label name -> label value -> run fingerprints
	labelIndex map[string]map[string][]uint64
}

// NewIndex creates a new index
func NewIndex() *Index {
	return &Index{
		runs:       make(map[uint64]types.RunMeta),
		labelIndex: make(map[string]map[string][]uint64),
	}
}

// AddRun indexes meta under its event, model and labels
func (idx *Index) AddRun(meta types.RunMeta) uint64 {
	fp := fingerprint(meta.ID)
	if _, exists := idx.runs[fp]; exists {
		return fp
	}
	idx.runs[fp] = meta

	for name, value := range runLabels(meta) {
		if idx.labelIndex[name] == nil {
			idx.labelIndex[name] = make(map[string][]uint64)
		}
		idx.labelIndex[name][value] = append(idx.labelIndex[name][value], fp)
	}
	return fp
}

// RemoveRun drops a run and its label postings
func (idx *Index) RemoveRun(id string) {
	fp := fingerprint(id)
	meta, ok := idx.runs[fp]
	if !ok {
		return
	}
	delete(idx.runs, fp)

	for name, value := range runLabels(meta) {
		postings := idx.labelIndex[name][value]
		for i, p := range postings {
			if p == fp {
				postings = append(postings[:i], postings[i+1:]...)
				break
			}
		}
		if len(postings) == 0 {
			delete(idx.labelIndex[name], value)
		} else {
			idx.labelIndex[name][value] = postings
		}
	}
}

// GetRun retrieves run metadata by ID
func (idx *Index) GetRun(id string) (types.RunMeta, bool) {
	meta, ok := idx.runs[fingerprint(id)]
	return meta, ok
}

// FindRuns returns the runs matching every selector, oldest first. An empty
// selector matches all runs.
func (idx *Index) FindRuns(selectors map[string]string) []types.RunMeta {
	var fps []uint64
	if len(selectors) == 0 {
		fps = make([]uint64, 0, len(idx.runs))
		for fp := range idx.runs {
			fps = append(fps, fp)
		}
	} else {
		first := true
		for name, value := range selectors {
			postings, ok := idx.labelIndex[name][value]
			if !ok {
				return nil
			}
			if first {
				fps = append([]uint64(nil), postings...)
				first = false
			} else {
				fps = intersect(fps, postings)
			}
			if len(fps) == 0 {
				return nil
			}
		}
	}

	out := make([]types.RunMeta, 0, len(fps))
	for _, fp := range fps {
		out = append(out, idx.runs[fp])
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RunCount returns the number of indexed runs
func (idx *Index) RunCount() int {
	return len(idx.runs)
}

// Clear clears the index
func (idx *Index) Clear() {
	idx.runs = make(map[uint64]types.RunMeta)
	idx.labelIndex = make(map[string]map[string][]uint64)
}

func runLabels(meta types.RunMeta) map[string]string {
	labels := make(map[string]string, len(meta.Labels)+2)
	for k, v := range meta.Labels {
		labels[k] = v
	}
	if meta.Event != "" {
		labels[LabelEvent] = meta.Event
	}
	if meta.Model != "" {
		labels[LabelModel] = meta.Model
	}
	return labels
}

// fingerprint hashes a run ID
func fingerprint(id string) uint64 {
	return xxh3.HashString(id)
}

// intersect finds common elements in two slices
func intersect(a, b []uint64) []uint64 {
	a = append([]uint64(nil), a...)
	b = append([]uint64(nil), b...)
	sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
	sort.Slice(b, func(i, j int) bool { return b[i] < b[j] })

	result := make([]uint64, 0)
	i, j := 0, 0

	for i < len(a) && j < len(b) {
		if a[i] < b[j] {
			i++
		} else if a[i] > b[j] {
			j++
		} else {
			result = append(result, a[i])
			i++
			j++
		}
	}

	return result
}
