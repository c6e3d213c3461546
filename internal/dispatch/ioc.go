package dispatch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// IOCBundle is a signed indicators-of-compromise record for a Critical
// cluster takedown, built from every member account's recent window
// data and exported for cross-provider sharing.
type IOCBundle struct {
	Timestamp     time.Time `json:"timestamp"`
	ClusterID     uint64    `json:"cluster_id"`
	MemberIDs     []string  `json:"member_ids"`
	IPAddresses   []string  `json:"ip_addresses"`
	Subnets       []string  `json:"subnets"`
	JA3Hashes     []string  `json:"ja3_hashes"`
	JA3SHashes    []string  `json:"ja3s_hashes"`
	H2Settings    []string  `json:"h2_settings_hashes"`
	PaymentHashes []string  `json:"payment_hashes"`
	WatermarkTokens []string `json:"watermark_tokens,omitempty"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	Signature     string    `json:"hmac_sha256"`
}

// canonicalBody returns the deterministic byte encoding of the bundle
// with Signature blanked, which is what HMAC signs and verifies over.
// encoding/json emits object fields in their struct declaration order
// and sorts map keys, so two processes with the same bundle contents
// always produce byte-identical output.
func (b IOCBundle) canonicalBody() ([]byte, error) {
	unsigned := b
	unsigned.Signature = ""
	return json.Marshal(unsigned)
}

// sign computes and sets the bundle's HMAC-SHA256 signature using key.
func (b *IOCBundle) sign(key []byte) error {
	body, err := b.canonicalBody()
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	b.Signature = hex.EncodeToString(mac.Sum(nil))
	return nil
}

// Verify reports whether the bundle's signature matches key over its
// canonicalized body.
func (b IOCBundle) Verify(key []byte) bool {
	body, err := b.canonicalBody()
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(b.Signature), []byte(expected))
}

func sortedUnique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
