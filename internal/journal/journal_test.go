package journal_test

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridci/internal/journal"
	"gridci/pkg/hashutil"
)

func openSigned(t *testing.T, path string) *journal.Journal {
	t.Helper()
	j, err := journal.Open(path)
	require.NoError(t, err)
	pub, priv, err := journal.GenerateKeyPair()
	require.NoError(t, err)
	j.SetKeys(pub, priv)
	return j
}

func appendStep(t *testing.T, j *journal.Journal, runID, instance, step, output string) *journal.Entry {
	t.Helper()
	e, err := journal.NewEntry(j.NextIndex(), runID, instance, step, "success",
		hashutil.HashString(output), j.LastHash())
	require.NoError(t, err)
	require.NoError(t, j.Append(e))
	return e
}

func TestAppendAndVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j := openSigned(t, path)

	appendStep(t, j, "run-1", "tests (3.8, quality)", "checkout", "checked out")
	appendStep(t, j, "run-1", "tests (3.8, quality)", "tox", "4 passed")

	require.NoError(t, j.Verify())
	assert.Len(t, j.Entries(), 2)
	assert.Equal(t, 2, j.NextIndex())
}

func TestRecordFromConcurrentInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j := openSigned(t, path)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := j.Record("run-1", fmt.Sprintf("tests-%d", n), "tox", "success",
				hashutil.HashString("out"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, j.Entries(), 8)
	require.NoError(t, j.Verify())
}

func TestTamperedDigestIsDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j := openSigned(t, path)
	appendStep(t, j, "run-1", "tests", "tox", "ok")

	j.Entries()[0].OutputDigest = "FAKE_DIGEST"
	err := j.Verify()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")
}

func TestStrippedSignatureIsDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j := openSigned(t, path)
	appendStep(t, j, "run-1", "tests", "checkout", "ok")
	e := appendStep(t, j, "run-1", "tests", "tox", "4 passed")

	// Flip the recorded outcome, recompute the hash so the chain still
	// holds, and drop the signature.
	e.Status = "failure"
	h, err := e.ComputeHash()
	require.NoError(t, err)
	e.Hash = h
	e.Signature = ""
	e.PubKey = ""

	verifyErr := j.Verify()
	require.Error(t, verifyErr)
	assert.Contains(t, verifyErr.Error(), "unsigned entry")
}

func TestForeignKeySignatureIsDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j := openSigned(t, path)
	appendStep(t, j, "run-1", "tests", "checkout", "ok")
	e := appendStep(t, j, "run-1", "tests", "tox", "4 passed")

	// Flip the outcome, recompute the hash, and re-sign with a key the
	// journal owner never issued.
	e.Status = "failure"
	h, err := e.ComputeHash()
	require.NoError(t, err)
	e.Hash = h

	pub, priv, err := journal.GenerateKeyPair()
	require.NoError(t, err)
	e.Signature = hex.EncodeToString(ed25519.Sign(priv, []byte(e.Hash)))
	e.PubKey = hex.EncodeToString(pub)

	verifyErr := j.Verify()
	require.Error(t, verifyErr)
	assert.Contains(t, verifyErr.Error(), "untrusted signing key")
}

func TestVerifyRequiresTrustedKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j, err := journal.Open(path)
	require.NoError(t, err)

	verifyErr := j.Verify()
	require.Error(t, verifyErr)
	assert.Contains(t, verifyErr.Error(), "no trusted public key")
}

func TestTamperedSignatureIsDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j := openSigned(t, path)
	e := appendStep(t, j, "run-1", "tests", "tox", "ok")

	// Re-sign with an unrelated key by swapping the signature bytes.
	e.Signature = e.Signature[2:] + e.Signature[:2]
	err := j.Verify()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature")
}

func TestBrokenChainIsDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j := openSigned(t, path)
	appendStep(t, j, "run-1", "tests", "checkout", "a")
	appendStep(t, j, "run-1", "tests", "tox", "b")

	// Rewriting an early entry breaks its successor's link.
	first := j.Entries()[0]
	first.Step = "tampered"
	h, err := first.ComputeHash()
	require.NoError(t, err)
	first.Hash = h

	verifyErr := j.Verify()
	require.Error(t, verifyErr)
}

func TestAppendRejectsWrongPrevHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j := openSigned(t, path)
	appendStep(t, j, "run-1", "tests", "checkout", "a")

	e, err := journal.NewEntry(j.NextIndex(), "run-1", "tests", "tox", "success", "digest", "bogus-prev")
	require.NoError(t, err)
	require.Error(t, j.Append(e))
}

func TestAppendRequiresSigningKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j, err := journal.Open(path)
	require.NoError(t, err)

	e, err := journal.NewEntry(0, "run-1", "tests", "tox", "success", "digest", "")
	require.NoError(t, err)
	require.Error(t, j.Append(e))
}

func TestReopenPreservesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j, err := journal.Open(path)
	require.NoError(t, err)
	pub, priv, err := journal.GenerateKeyPair()
	require.NoError(t, err)
	j.SetKeys(pub, priv)
	appendStep(t, j, "run-1", "tests", "checkout", "a")
	appendStep(t, j, "run-1", "tests", "tox", "b")

	reopened, err := journal.Open(path)
	require.NoError(t, err)
	reopened.SetKeys(pub, nil)
	require.Len(t, reopened.Entries(), 2)
	require.NoError(t, reopened.Verify())
	assert.Equal(t, j.LastHash(), reopened.LastHash())
}

func TestEnsureKeysRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	pub1, priv1, err := journal.EnsureKeys(dir)
	require.NoError(t, err)

	pub2, priv2, err := journal.EnsureKeys(dir)
	require.NoError(t, err)
	assert.Equal(t, pub1, pub2)
	assert.Equal(t, priv1, priv2)
}
