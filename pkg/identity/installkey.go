package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RegistrationProof is what a Worker sends to prove possession of an
// InstallKey without transmitting the key itself: a nonce, a timestamp, and
// an HMAC-SHA256 of both keyed by the install key.
type RegistrationProof struct {
	Nonce     string
	Timestamp int64
	Signature string
}

// BuildRegistrationProof computes the proof a Worker presents when consuming
// an install key during registration.
func BuildRegistrationProof(installKey string) RegistrationProof {
	nonce := uuid.NewString()
	ts := time.Now().Unix()
	return RegistrationProof{
		Nonce:     nonce,
		Timestamp: ts,
		Signature: signProof(installKey, nonce, ts),
	}
}

// VerifyRegistrationProof checks a RegistrationProof against the expected
// install key and a max age, without ever comparing the key itself over the
// wire. maxAge bounds replay: a proof older than maxAge is rejected even if
// the signature is valid.
func VerifyRegistrationProof(installKey string, proof RegistrationProof, maxAge time.Duration) error {
	age := time.Since(time.Unix(proof.Timestamp, 0))
	if age < 0 || age > maxAge {
		return fmt.Errorf("identity: registration proof timestamp outside allowed window (%s old)", age)
	}
	expected := signProof(installKey, proof.Nonce, proof.Timestamp)
	if !hmac.Equal([]byte(expected), []byte(proof.Signature)) {
		return fmt.Errorf("identity: registration proof signature mismatch")
	}
	return nil
}

func signProof(installKey, nonce string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(installKey))
	mac.Write([]byte(fmt.Sprintf("%s:%d", nonce, timestamp)))
	return hex.EncodeToString(mac.Sum(nil))
}

// MatchesOSBinding reports whether the running OS/arch satisfies binding
// (empty binding always matches). binding is formatted "os/arch", e.g.
// "linux/amd64", matching runtime.GOOS+"/"+runtime.GOARCH.
func MatchesOSBinding(binding, osArch string) bool {
	if binding == "" {
		return true
	}
	return strings.EqualFold(binding, osArch)
}

// MatchesSourceBinding reports whether remoteIP/hostname satisfy an
// InstallKey's optional CIDR or hostname binding. An empty binding always
// matches; a CIDR binding is checked against remoteIP, a hostname binding
// against hostname (case-insensitive exact match).
func MatchesSourceBinding(cidr, hostnameBinding, remoteIP, hostname string) bool {
	if cidr == "" && hostnameBinding == "" {
		return true
	}
	if cidr != "" {
		_, network, err := net.ParseCIDR(cidr)
		if err == nil && remoteIP != "" {
			ip := net.ParseIP(remoteIP)
			if ip != nil && network.Contains(ip) {
				return true
			}
		}
	}
	if hostnameBinding != "" && strings.EqualFold(hostnameBinding, hostname) {
		return true
	}
	return false
}
