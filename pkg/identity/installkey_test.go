package identity

import (
	"testing"
	"time"
)

func TestRegistrationProofRoundTrips(t *testing.T) {
	proof := BuildRegistrationProof("s3cr3t")
	if err := VerifyRegistrationProof("s3cr3t", proof, time.Minute); err != nil {
		t.Fatalf("expected a valid proof to verify, got %v", err)
	}
}

func TestRegistrationProofRejectsWrongKey(t *testing.T) {
	proof := BuildRegistrationProof("s3cr3t")
	if err := VerifyRegistrationProof("wrong-key", proof, time.Minute); err == nil {
		t.Fatal("expected verification to fail with the wrong install key")
	}
}

func TestRegistrationProofRejectsTamperedSignature(t *testing.T) {
	proof := BuildRegistrationProof("s3cr3t")
	proof.Signature = "00" + proof.Signature[2:]
	if err := VerifyRegistrationProof("s3cr3t", proof, time.Minute); err == nil {
		t.Fatal("expected verification to fail with a tampered signature")
	}
}

func TestRegistrationProofRejectsExpiredTimestamp(t *testing.T) {
	proof := BuildRegistrationProof("s3cr3t")
	proof.Timestamp -= int64(time.Hour.Seconds())
	if err := VerifyRegistrationProof("s3cr3t", proof, time.Minute); err == nil {
		t.Fatal("expected an aged-out proof to fail verification")
	}
}

func TestRegistrationProofRejectsFutureTimestamp(t *testing.T) {
	proof := BuildRegistrationProof("s3cr3t")
	proof.Timestamp += int64(time.Hour.Seconds())
	if err := VerifyRegistrationProof("s3cr3t", proof, time.Minute); err == nil {
		t.Fatal("expected a future-dated proof to fail verification")
	}
}

func TestMatchesOSBinding(t *testing.T) {
	cases := []struct {
		binding, osArch string
		want            bool
	}{
		{"", "linux/amd64", true},
		{"linux/amd64", "linux/amd64", true},
		{"linux/amd64", "darwin/arm64", false},
		{"Linux/AMD64", "linux/amd64", true},
	}
	for _, c := range cases {
		if got := MatchesOSBinding(c.binding, c.osArch); got != c.want {
			t.Errorf("MatchesOSBinding(%q, %q) = %v, want %v", c.binding, c.osArch, got, c.want)
		}
	}
}

func TestMatchesSourceBindingEmptyAlwaysMatches(t *testing.T) {
	if !MatchesSourceBinding("", "", "1.2.3.4", "host-a") {
		t.Fatal("expected empty binding to always match")
	}
}

func TestMatchesSourceBindingCIDR(t *testing.T) {
	if !MatchesSourceBinding("10.0.0.0/8", "", "10.1.2.3", "") {
		t.Fatal("expected IP within CIDR to match")
	}
	if MatchesSourceBinding("10.0.0.0/8", "", "192.168.1.1", "") {
		t.Fatal("expected IP outside CIDR to not match")
	}
}

func TestMatchesSourceBindingHostname(t *testing.T) {
	if !MatchesSourceBinding("", "Worker-Host", "", "worker-host") {
		t.Fatal("expected case-insensitive hostname match")
	}
	if MatchesSourceBinding("", "worker-host", "", "other-host") {
		t.Fatal("expected hostname mismatch to fail")
	}
}

func TestMatchesSourceBindingBothSetEitherSatisfies(t *testing.T) {
	if !MatchesSourceBinding("10.0.0.0/8", "worker-host", "192.168.1.1", "worker-host") {
		t.Fatal("expected hostname match to satisfy even though CIDR does not match")
	}
}
