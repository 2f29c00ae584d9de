package signature

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

// Sign builds the canonical signing string for params and digests it under
// the given scheme. Empty values and any incoming sign/signature field are
// excluded. Pure: no side effects, deterministic for equal inputs.
func Sign(params map[string]string, secret string, scheme Scheme) (string, error) {
	if err := scheme.validate(); err != nil {
		return "", err
	}

	keys := make([]string, 0, len(params))
	for key, value := range params {
		if value == "" {
			continue
		}
		if key == "sign" || key == "signature" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, key := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(params[key])
	}

	switch scheme.Placement {
	case SecretTrailingPair:
		if sb.Len() > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(scheme.SecretKey)
		sb.WriteByte('=')
		sb.WriteString(secret)
	case SecretConcat:
		sb.WriteString(secret)
	}

	var digest []byte
	switch scheme.Digest {
	case DigestMD5:
		sum := md5.Sum([]byte(sb.String()))
		digest = sum[:]
	case DigestSHA256:
		sum := sha256.Sum256([]byte(sb.String()))
		digest = sum[:]
	}

	encoded := hex.EncodeToString(digest)
	if scheme.Case == CaseUpper {
		encoded = strings.ToUpper(encoded)
	}
	return encoded, nil
}

// Verify recomputes the signature over params and compares it with candidate
// in constant time. Returns ErrSignatureMismatch on any difference.
func Verify(params map[string]string, secret string, scheme Scheme, candidate string) error {
	expected, err := Sign(params, secret, scheme)
	if err != nil {
		return err
	}
	normalized := candidate
	if scheme.Case == CaseUpper {
		normalized = strings.ToUpper(normalized)
	} else {
		normalized = strings.ToLower(normalized)
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(normalized)) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}
