package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/vjranagit/empe/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned for unknown run IDs
var ErrNotFound = errors.New("run not found")

// Store archives sample sets and the envelopes synthesized from them
type Store interface {
	// PutRun archives a sample set and returns its new run ID
	PutRun(ctx context.Context, meta types.RunMeta, set types.SampleSet) (string, error)

	// GetRun loads a run's metadata and samples
	GetRun(ctx context.Context, id string) (types.RunMeta, types.SampleSet, error)

	// FindRuns lists runs whose labels match every selector
	FindRuns(ctx context.Context, selectors map[string]string) ([]types.RunMeta, error)

	// DeleteRun removes a run with its envelopes
	DeleteRun(ctx context.Context, id string) error

	// PutEnvelope archives an envelope under a run
	PutEnvelope(ctx context.Context, id string, env types.Envelope) error

	// GetEnvelopes returns a run's envelopes in archive order
	GetEnvelopes(ctx context.Context, id string) ([]types.Envelope, error)

	// Close closes the storage
	Close() error
}

// Config holds storage configuration
type Config struct {
	Path             string
	RetentionDays    int
	CompressionLevel int
}

// DefaultConfig returns default storage configuration
func DefaultConfig() *Config {
	return &Config{
		Path:             "./data",
		RetentionDays:    0,
		CompressionLevel: 3,
	}
}

// Key prefixes
const (
	prefixMeta     = "meta/"
	prefixColumn   = "col/"
	prefixEnvelope = "env/"
)

// badgerStorage implements Store using BadgerDB
type badgerStorage struct {
	cfg        *Config
	db         *badger.DB
	index      *Index
	compressor *Compressor
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewStorage opens the archive and rebuilds the run index from it
func NewStorage(cfg *Config, logger *zap.Logger) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Initialize BadgerDB
	opts := badger.DefaultOptions(filepath.Join(cfg.Path, "badger"))
	opts.Logger = nil // Disable BadgerDB logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	compressor, err := NewCompressor(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	s := &badgerStorage{
		cfg:        cfg,
		db:         db,
		index:      NewIndex(),
		compressor: compressor,
		logger:     logger,
	}

	if err := s.rebuildIndex(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to rebuild index: %w", err)
	}
	logger.Debug("storage opened", zap.String("path", cfg.Path), zap.Int("runs", s.index.RunCount()))

	return s, nil
}

// rebuildIndex loads every run's metadata into the index
func (s *badgerStorage) rebuildIndex() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixMeta)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var meta types.RunMeta
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal metadata %s: %w", it.Item().Key(), err)
			}
			s.index.AddRun(meta)
		}
		return nil
	})
}

// PutRun implements Store.PutRun
func (s *badgerStorage) PutRun(ctx context.Context, meta types.RunMeta, set types.SampleSet) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	meta.ID = uuid.NewString()
	meta.Params = set.Header.Names()
	meta.Records = set.Len()
	if meta.Created.IsZero() {
		meta.Created = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	// Store column-major: lnL, prior, proposal, then each parameter
	var size int
	for i, col := range columns(set) {
		encoded := s.compressor.EncodeColumn(col)
		size += len(encoded)
		if err := wb.SetEntry(s.entry(columnKey(meta.ID, i), encoded)); err != nil {
			return "", fmt.Errorf("failed to write column %d: %w", i, err)
		}
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := wb.SetEntry(s.entry(metaKey(meta.ID), metaBytes)); err != nil {
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := wb.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush run: %w", err)
	}

	s.index.AddRun(meta)
	s.logger.Info("archived run",
		zap.String("id", meta.ID),
		zap.String("event", meta.Event),
		zap.Int("records", meta.Records),
		zap.String("size", humanize.Bytes(uint64(size))),
	)

	return meta.ID, nil
}

// GetRun implements Store.GetRun
func (s *badgerStorage) GetRun(ctx context.Context, id string) (types.RunMeta, types.SampleSet, error) {
	if err := ctx.Err(); err != nil {
		return types.RunMeta{}, types.SampleSet{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.index.GetRun(id)
	if !ok || s.expired(meta) {
		return types.RunMeta{}, types.SampleSet{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	header, err := types.NewHeader(meta.Params)
	if err != nil {
		return types.RunMeta{}, types.SampleSet{}, fmt.Errorf("corrupt header of run %s: %w", id, err)
	}

	cols := make([][]float64, 3+header.Len())
	err = s.db.View(func(txn *badger.Txn) error {
		for i := range cols {
			item, err := txn.Get(columnKey(id, i))
			if err != nil {
				return fmt.Errorf("column %d: %w", i, err)
			}
			err = item.Value(func(val []byte) error {
				col, err := s.compressor.DecodeColumn(val, meta.Records)
				cols[i] = col
				return err
			})
			if err != nil {
				return fmt.Errorf("column %d: %w", i, err)
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return types.RunMeta{}, types.SampleSet{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return types.RunMeta{}, types.SampleSet{}, fmt.Errorf("failed to read run %s: %w", id, err)
	}

	records := make([]types.Record, meta.Records)
	for r := range records {
		params := make([]float64, header.Len())
		for p := range params {
			params[p] = cols[3+p][r]
		}
		records[r] = types.Record{
			LogLikelihood: cols[0][r],
			Prior:         cols[1][r],
			Proposal:      cols[2][r],
			Params:        params,
		}
	}

	return meta, types.SampleSet{Header: header, Records: records}, nil
}

// FindRuns implements Store.FindRuns
func (s *badgerStorage) FindRuns(ctx context.Context, selectors map[string]string) ([]types.RunMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	found := s.index.FindRuns(selectors)
	out := found[:0]
	for _, meta := range found {
		if !s.expired(meta) {
			out = append(out, meta)
		}
	}
	return out, nil
}

// DeleteRun implements Store.DeleteRun
func (s *badgerStorage) DeleteRun(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index.GetRun(id); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	keys := [][]byte{metaKey(id)}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for _, prefix := range [][]byte{runPrefix(prefixColumn, id), runPrefix(prefixEnvelope, id)} {
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list run keys: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("failed to delete %s: %w", k, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to flush delete: %w", err)
	}

	s.index.RemoveRun(id)
	s.logger.Info("deleted run", zap.String("id", id), zap.Int("keys", len(keys)))
	return nil
}

// envelopePayload is the stored form of an envelope
type envelopePayload struct {
	Model string
	Band  string
	Draws int
	Count int
	Times []byte
	Min   []byte
	Max   []byte
}

// PutEnvelope implements Store.PutEnvelope
func (s *badgerStorage) PutEnvelope(ctx context.Context, id string, env types.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(env.Min) != len(env.Times) || len(env.Max) != len(env.Times) {
		return fmt.Errorf("envelope has %d times, %d min and %d max values", len(env.Times), len(env.Min), len(env.Max))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if meta, ok := s.index.GetRun(id); !ok || s.expired(meta) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	payload := envelopePayload{
		Model: env.Model,
		Band:  env.Band,
		Draws: env.Draws,
		Count: len(env.Times),
		Times: s.compressor.EncodeColumn(env.Times),
		Min:   s.compressor.EncodeColumn(env.Min),
		Max:   s.compressor.EncodeColumn(env.Max),
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		seq := countPrefix(txn, runPrefix(prefixEnvelope, id))
		return txn.SetEntry(s.entry(envelopeKey(id, seq), payloadBytes))
	})
}

// GetEnvelopes implements Store.GetEnvelopes
func (s *badgerStorage) GetEnvelopes(ctx context.Context, id string) ([]types.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if meta, ok := s.index.GetRun(id); !ok || s.expired(meta) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var envs []types.Envelope
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := runPrefix(prefixEnvelope, id)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var payload envelopePayload
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &payload)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal envelope: %w", err)
			}
			env, err := s.decodeEnvelope(payload)
			if err != nil {
				return err
			}
			envs = append(envs, env)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return envs, nil
}

func (s *badgerStorage) decodeEnvelope(p envelopePayload) (types.Envelope, error) {
	env := types.Envelope{Model: p.Model, Band: p.Band, Draws: p.Draws}
	var err error
	if env.Times, err = s.compressor.DecodeColumn(p.Times, p.Count); err != nil {
		return types.Envelope{}, fmt.Errorf("failed to decode times: %w", err)
	}
	if env.Min, err = s.compressor.DecodeColumn(p.Min, p.Count); err != nil {
		return types.Envelope{}, fmt.Errorf("failed to decode min: %w", err)
	}
	if env.Max, err = s.compressor.DecodeColumn(p.Max, p.Count); err != nil {
		return types.Envelope{}, fmt.Errorf("failed to decode max: %w", err)
	}
	return env, nil
}

// Close implements Store.Close
func (s *badgerStorage) Close() error {
	if s.compressor != nil {
		s.compressor.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// entry applies the retention period to a new key
func (s *badgerStorage) entry(key, value []byte) *badger.Entry {
	e := badger.NewEntry(key, value)
	if s.cfg.RetentionDays > 0 {
		e = e.WithTTL(s.retention())
	}
	return e
}

func (s *badgerStorage) retention() time.Duration {
	return time.Duration(s.cfg.RetentionDays) * 24 * time.Hour
}

// expired reports whether the run's keys have outlived the retention period
func (s *badgerStorage) expired(meta types.RunMeta) bool {
	return s.cfg.RetentionDays > 0 && time.Since(meta.Created) > s.retention()
}

// columns splits a sample set into its fixed and parameter columns
func columns(set types.SampleSet) [][]float64 {
	cols := make([][]float64, 3+set.Header.Len())
	for i := range cols {
		cols[i] = make([]float64, set.Len())
	}
	for r, rec := range set.Records {
		cols[0][r] = rec.LogLikelihood
		cols[1][r] = rec.Prior
		cols[2][r] = rec.Proposal
		for p, v := range rec.Params {
			cols[3+p][r] = v
		}
	}
	return cols
}

func countPrefix(txn *badger.Txn, prefix []byte) int {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return n
}

func metaKey(id string) []byte {
	return []byte(prefixMeta + id)
}

func runPrefix(prefix, id string) []byte {
	return []byte(prefix + id + "/")
}

// columnKey generates a storage key for one column of a run
func columnKey(id string, col int) []byte {
	return seqKey(prefixColumn, id, col)
}

// envelopeKey generates a storage key for the seq-th envelope of a run
func envelopeKey(id string, seq int) []byte {
	return seqKey(prefixEnvelope, id, seq)
}

func seqKey(prefix, id string, n int) []byte {
	buf := bytes.NewBuffer(runPrefix(prefix, id))
	binary.Write(buf, binary.BigEndian, uint32(n))
	return buf.Bytes()
}
