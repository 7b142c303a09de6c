// Package dispatchsig authenticates a QueuedTask end to end between the
// Master that dispatches it and the Worker that executes it: an HMAC-SHA256
// signature over the payload's immutable fields, with a short validity
// window and a nonce, so a tampered or expired dispatch is rejected before
// a Worker fetches or runs anything. Verify keeps no record of nonces it has
// seen, so a dispatch replayed before its expiry verifies again. Plain stdlib
// crypto/hmac: no ecosystem library is more idiomatic than this for a
// symmetric-key MAC in Go.
package dispatchsig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/antcode/antcode/pkg/types"
)

const Algorithm = "HMAC-SHA256"

// Sign computes a DispatchSignature over q valid for ttl starting now.
// Returns nil if secret is empty, letting deployments run without dispatch
// authentication (e.g. local Direct-mode development).
func Sign(secret []byte, q types.QueuedTask, ttl time.Duration) *types.DispatchSignature {
	if len(secret) == 0 {
		return nil
	}
	now := time.Now()
	sig := &types.DispatchSignature{
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		Nonce:     uuid.New().String(),
		Algorithm: Algorithm,
	}
	sig.Signature = mac(secret, canonical(q, sig.IssuedAt, sig.ExpiresAt, sig.Nonce))
	return sig
}

// Verify recomputes q's signature and checks it against q.Signature,
// rejecting expired or malformed signatures. A nil Signature is accepted iff
// secret is also empty, mirroring Sign's opt-out for unauthenticated modes.
func Verify(secret []byte, q types.QueuedTask) error {
	if q.Signature == nil {
		if len(secret) == 0 {
			return nil
		}
		return fmt.Errorf("dispatchsig: task %s carries no signature", q.RunID)
	}
	if len(secret) == 0 {
		return fmt.Errorf("dispatchsig: task %s is signed but no verification key is configured", q.RunID)
	}
	if q.Signature.Algorithm != Algorithm {
		return fmt.Errorf("dispatchsig: task %s uses unsupported algorithm %q", q.RunID, q.Signature.Algorithm)
	}
	if time.Now().Unix() > q.Signature.ExpiresAt {
		return fmt.Errorf("dispatchsig: task %s signature expired at %d", q.RunID, q.Signature.ExpiresAt)
	}

	want := mac(secret, canonical(q, q.Signature.IssuedAt, q.Signature.ExpiresAt, q.Signature.Nonce))
	got, err := hex.DecodeString(q.Signature.Signature)
	if err != nil {
		return fmt.Errorf("dispatchsig: task %s has malformed signature: %w", q.RunID, err)
	}
	wantRaw, err := hex.DecodeString(want)
	if err != nil {
		return fmt.Errorf("dispatchsig: internal mac encode error: %w", err)
	}
	if !hmac.Equal(got, wantRaw) {
		return fmt.Errorf("dispatchsig: task %s signature mismatch", q.RunID)
	}
	return nil
}

func canonical(q types.QueuedTask, issuedAt, expiresAt int64, nonce string) string {
	return q.RunID + "|" + q.TaskID + "|" + q.ProjectID + "|" + q.DownloadURL + "|" + q.FileHash + "|" +
		strconv.FormatInt(issuedAt, 10) + "|" + strconv.FormatInt(expiresAt, 10) + "|" + nonce
}

func mac(secret []byte, message string) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}
