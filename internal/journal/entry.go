package journal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Entry is one tamper-evident record of a completed pipeline step: which
// run and job instance it belonged to, how it ended, and a digest of its
// captured output. Entries chain through PrevHash and carry an ed25519
// signature over their own hash.
type Entry struct {
	Index        int    `json:"index"`
	Timestamp    string `json:"timestamp"`
	RunID        string `json:"runId"`
	Instance     string `json:"instance"`
	Step         string `json:"step"`
	Status       string `json:"status"`
	OutputDigest string `json:"outputDigest"`
	PrevHash     string `json:"prevHash"`
	Hash         string `json:"hash"`
	Signature    string `json:"signature"`
	PubKey       string `json:"pubKey"`
}

// canonicalData returns the JSON bytes the entry hash is computed over.
// Hash, Signature and PubKey are excluded.
func (e *Entry) canonicalData() ([]byte, error) {
	view := struct {
		Index        int    `json:"index"`
		Timestamp    string `json:"timestamp"`
		RunID        string `json:"runId"`
		Instance     string `json:"instance"`
		Step         string `json:"step"`
		Status       string `json:"status"`
		OutputDigest string `json:"outputDigest"`
		PrevHash     string `json:"prevHash"`
	}{
		Index:        e.Index,
		Timestamp:    e.Timestamp,
		RunID:        e.RunID,
		Instance:     e.Instance,
		Step:         e.Step,
		Status:       e.Status,
		OutputDigest: e.OutputDigest,
		PrevHash:     e.PrevHash,
	}
	return json.Marshal(view)
}

// ComputeHash calculates sha256 over canonicalData.
func (e *Entry) ComputeHash() (string, error) {
	data, err := e.canonicalData()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// NewEntry constructs an entry and computes its hash. The signature is
// applied on append.
func NewEntry(index int, runID, instance, step, status, outputDigest, prevHash string) (*Entry, error) {
	e := &Entry{
		Index:        index,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		RunID:        runID,
		Instance:     instance,
		Step:         step,
		Status:       status,
		OutputDigest: outputDigest,
		PrevHash:     prevHash,
	}
	h, err := e.ComputeHash()
	if err != nil {
		return nil, fmt.Errorf("compute entry hash: %w", err)
	}
	e.Hash = h
	return e, nil
}
