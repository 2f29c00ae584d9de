package signature

import "errors"

var (
	ErrInvalidScheme     = errors.New("invalid_scheme")
	ErrSignatureMismatch = errors.New("signature_mismatch")
)

type Digest string

const (
	DigestMD5    Digest = "md5"
	DigestSHA256 Digest = "sha256"
)

type SecretPlacement string

const (
	// SecretTrailingPair appends the secret as a final "&<key>=<secret>" pair.
	SecretTrailingPair SecretPlacement = "pair"
	// SecretConcat appends the raw secret directly to the canonical string.
	SecretConcat SecretPlacement = "concat"
)

type DigestCase string

const (
	CaseLower DigestCase = "lower"
	CaseUpper DigestCase = "upper"
)

// Scheme describes one provider's signing contract as data. Adding a provider
// is a new Scheme value, not new signing code.
type Scheme struct {
	Digest    Digest
	Placement SecretPlacement
	// SecretKey is the pair key used when Placement is SecretTrailingPair.
	SecretKey string
	Case      DigestCase
}

func (s Scheme) validate() error {
	switch s.Digest {
	case DigestMD5, DigestSHA256:
	default:
		return ErrInvalidScheme
	}
	switch s.Placement {
	case SecretTrailingPair:
		if s.SecretKey == "" {
			return ErrInvalidScheme
		}
	case SecretConcat:
	default:
		return ErrInvalidScheme
	}
	switch s.Case {
	case CaseLower, CaseUpper:
	default:
		return ErrInvalidScheme
	}
	return nil
}
