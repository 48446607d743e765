package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"binance-grid-bot-go/internal/models"
)

// pairDocument is the per-pair object of the JSON layout.
type pairDocument struct {
	TradingGrids []models.Grid `json:"tradingGrids"`
}

// JSONPersister stores the ledger as a single JSON document mapping each
// trading pair to {"tradingGrids": [...]}.
type JSONPersister struct {
	path string
}

// NewJSONPersister creates a persister writing to path.
func NewJSONPersister(path string) *JSONPersister {
	return &JSONPersister{path: path}
}

// Load reads the document. A missing file is an empty ledger.
func (p *JSONPersister) Load(_ context.Context) (map[string][]models.Grid, error) {
	f, err := os.Open(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string][]models.Grid{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", p.path, err)
	}
	defer f.Close()
	return DecodeJSON(f)
}

// Save rewrites the document through a temporary file and a rename so a
// crash never leaves a half-written ledger behind.
func (p *JSONPersister) Save(_ context.Context, snapshot map[string][]models.Grid) error {
	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := EncodeJSON(tmp, snapshot); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", p.path, err)
	}
	return nil
}

// DecodeJSON parses the JSON ledger layout.
func DecodeJSON(r io.Reader) (map[string][]models.Grid, error) {
	var doc map[string]pairDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode ledger: %w", err)
	}
	snapshot := make(map[string][]models.Grid, len(doc))
	for pair, d := range doc {
		snapshot[pair] = d.TradingGrids
	}
	return snapshot, nil
}

// EncodeJSON writes the JSON ledger layout.
func EncodeJSON(w io.Writer, snapshot map[string][]models.Grid) error {
	doc := make(map[string]pairDocument, len(snapshot))
	for pair, grids := range snapshot {
		if grids == nil {
			grids = []models.Grid{}
		}
		doc[pair] = pairDocument{TradingGrids: grids}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	return nil
}
