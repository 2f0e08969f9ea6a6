package payjs

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"strings"

	"payjs-be/internal/payment"
)

// SignField is the parameter carrying the signature on every request and callback.
const SignField = "sign"

// Signer produces and checks the gateway's MD5 signature.
type Signer struct {
	key string
}

func NewSigner(key string) *Signer {
	return &Signer{key: key}
}

// Canonicalize drops empty and zero values, then form-encodes the rest with
// keys in ascending order. The gateway filters the same way before signing.
func Canonicalize(fields payment.Fields) string {
	values := make(url.Values, len(fields))
	for k, v := range fields {
		if isAbsent(v) {
			continue
		}
		values.Set(k, v)
	}
	return values.Encode()
}

// Sign hashes the decoded canonical string with the shared key appended and
// returns the digest as uppercase hex.
func (s *Signer) Sign(canonical string) string {
	decoded, err := url.QueryUnescape(canonical)
	if err != nil {
		decoded = canonical
	}
	sum := md5.Sum([]byte(decoded + "&key=" + s.key))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// SignFields signs everything in fields except the signature itself.
func (s *Signer) SignFields(fields payment.Fields) string {
	return s.Sign(Canonicalize(withoutSign(fields)))
}

// Verify recomputes the signature over fields and compares it with claimed.
func (s *Signer) Verify(fields payment.Fields, claimed string) bool {
	if claimed == "" {
		return false
	}
	return s.SignFields(fields) == claimed
}

func withoutSign(fields payment.Fields) payment.Fields {
	if _, ok := fields[SignField]; !ok {
		return fields
	}
	out := fields.Clone()
	delete(out, SignField)
	return out
}

// isAbsent mirrors the gateway's falsy filter for form values: null, false,
// empty string and zero all arrive as "" or "0".
func isAbsent(v string) bool {
	return v == "" || v == "0"
}
