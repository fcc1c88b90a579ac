package journal

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Journal is an append-only record of step results, persisted as JSON
// lines. Each appended entry is hash-chained to its predecessor and signed,
// so later tampering with results or output digests is detectable.
type Journal struct {
	mu      sync.Mutex
	entries []*Entry
	path    string

	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// Open loads an existing journal file or starts an empty one.
func Open(path string) (*Journal, error) {
	j := &Journal{
		entries: make([]*Entry, 0),
		path:    path,
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		_ = f.Close()
		return j, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return j, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		j.entries = append(j.entries, &e)
	}
	return j, nil
}

// SetKeys installs the keypair used for subsequent appends. The public key
// is also the trusted key Verify checks entries against; a verify-only
// caller may pass a nil private key.
func (j *Journal) SetKeys(pub ed25519.PublicKey, priv ed25519.PrivateKey) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pub = pub
	j.priv = priv
}

// Record creates, chains, signs and appends an entry in one step. Safe for
// concurrent callers: the index and chain link are assigned under the lock.
func (j *Journal) Record(runID, instance, step, status, outputDigest string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	prev := ""
	if len(j.entries) > 0 {
		prev = j.entries[len(j.entries)-1].Hash
	}
	e, err := NewEntry(len(j.entries), runID, instance, step, status, outputDigest, prev)
	if err != nil {
		return nil, err
	}
	if err := j.appendLocked(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Append recomputes the entry hash, checks the chain link, signs the entry,
// persists it and keeps it in memory.
func (j *Journal) Append(e *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.appendLocked(e)
}

func (j *Journal) appendLocked(e *Entry) error {
	h, err := e.ComputeHash()
	if err != nil {
		return fmt.Errorf("recompute entry hash: %w", err)
	}
	e.Hash = h

	if len(j.entries) > 0 {
		last := j.entries[len(j.entries)-1]
		if e.PrevHash != last.Hash {
			return fmt.Errorf("prevHash mismatch: expected %s, got %s", last.Hash, e.PrevHash)
		}
	}

	if len(j.priv) == 0 {
		return fmt.Errorf("no signing key, cannot append entry")
	}
	sig := ed25519.Sign(j.priv, []byte(e.Hash))
	e.Signature = hex.EncodeToString(sig)
	e.PubKey = hex.EncodeToString(j.pub)

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(e); err != nil {
		return fmt.Errorf("write journal file: %w", err)
	}

	j.entries = append(j.entries, e)
	return nil
}

// Entries returns the in-memory entries.
func (j *Journal) Entries() []*Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.entries
}

// NextIndex returns the index the next appended entry should carry.
func (j *Journal) NextIndex() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// LastHash returns the hash of the newest entry, or "" for an empty journal.
func (j *Journal) LastHash() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.entries) == 0 {
		return ""
	}
	return j.entries[len(j.entries)-1].Hash
}

// Verify walks the chain against the trusted public key: every entry's hash
// must recompute, link to its predecessor, sit at its expected index, and
// carry a signature by the trusted key. Every legitimate append is signed,
// so an unsigned entry or one signed by a different key is tampering.
func (j *Journal) Verify() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.pub) == 0 {
		return fmt.Errorf("no trusted public key configured")
	}
	trusted := hex.EncodeToString(j.pub)

	for i, e := range j.entries {
		h, err := e.ComputeHash()
		if err != nil {
			return fmt.Errorf("compute hash at index %d: %w", e.Index, err)
		}
		if h != e.Hash {
			return fmt.Errorf("hash mismatch at index %d", e.Index)
		}
		if i > 0 && e.PrevHash != j.entries[i-1].Hash {
			return fmt.Errorf("prevHash mismatch at index %d", e.Index)
		}
		if e.Index != i {
			return fmt.Errorf("index mismatch: expected %d, got %d", i, e.Index)
		}
		if e.Signature == "" {
			return fmt.Errorf("unsigned entry at index %d", e.Index)
		}
		if e.PubKey != trusted {
			return fmt.Errorf("untrusted signing key at index %d", e.Index)
		}
		if err := verifyEntrySignature(e, j.pub); err != nil {
			return fmt.Errorf("signature invalid at index %d: %w", e.Index, err)
		}
	}
	return nil
}

func verifyEntrySignature(e *Entry, pub ed25519.PublicKey) error {
	sig, err := hex.DecodeString(e.Signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if !ed25519.Verify(pub, []byte(e.Hash), sig) {
		return fmt.Errorf("signature does not match entry hash")
	}
	return nil
}
