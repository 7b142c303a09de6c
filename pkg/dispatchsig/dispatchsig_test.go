package dispatchsig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antcode/antcode/pkg/types"
)

func sampleTask() types.QueuedTask {
	return types.QueuedTask{
		RunID:       "run-1",
		TaskID:      "task-1",
		ProjectID:   "proj-1",
		DownloadURL: "https://artifacts.example.com/proj-1.tar.gz",
		FileHash:    "deadbeef",
	}
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	secret := []byte("top-secret")
	q := sampleTask()
	q.Signature = Sign(secret, q, time.Minute)
	require.NotNil(t, q.Signature)
	assert.NoError(t, Verify(secret, q))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	q := sampleTask()
	q.Signature = Sign([]byte("correct"), q, time.Minute)
	assert.Error(t, Verify([]byte("wrong"), q))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	secret := []byte("top-secret")
	q := sampleTask()
	q.Signature = Sign(secret, q, time.Minute)
	q.DownloadURL = "https://evil.example.com/payload.tar.gz"
	assert.Error(t, Verify(secret, q))
}

func TestVerifyRejectsExpiredSignature(t *testing.T) {
	secret := []byte("top-secret")
	q := sampleTask()
	q.Signature = Sign(secret, q, -time.Second)
	assert.Error(t, Verify(secret, q))
}

func TestSignNoopsWithoutSecret(t *testing.T) {
	q := sampleTask()
	assert.Nil(t, Sign(nil, q, time.Minute))
}

func TestVerifyAcceptsUnsignedWhenNoSecretConfigured(t *testing.T) {
	q := sampleTask()
	assert.NoError(t, Verify(nil, q))
}

func TestVerifyRejectsUnsignedWhenSecretConfigured(t *testing.T) {
	q := sampleTask()
	assert.Error(t, Verify([]byte("top-secret"), q))
}
