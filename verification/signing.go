package verification

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// SigningAlgorithm names the canonical-request scheme in the emitted headers
// and in the string-to-sign metadata.
const SigningAlgorithm = "BV1-RSA-PSS-SHA256"

const signingDateLayout = "20060102T150405Z"

const signedHeaderNames = "host;x-content-sha256;x-date"

// SignatureHeaders is the header set emitted for a signed vendor request.
type SignatureHeaders struct {
	ContentSHA256 string // x-content-sha256
	Date          string // x-date
	SignedHeaders string // x-signed-headers
	Signature     string // x-signature
	Algorithm     string // x-algorithm
}

// Apply returns the headers as a map ready for the HTTP client.
func (h SignatureHeaders) Apply() map[string]string {
	return map[string]string{
		"x-content-sha256": h.ContentSHA256,
		"x-date":           h.Date,
		"x-signed-headers": h.SignedHeaders,
		"x-signature":      h.Signature,
		"x-algorithm":      h.Algorithm,
	}
}

// SigningEngine computes the canonical-request signature required by vendors
// that do not accept static API keys. The clock and entropy source are
// injected: with both fixed, Sign is deterministic for identical inputs.
type SigningEngine struct {
	key     *rsa.PrivateKey
	clock   Clock
	entropy io.Reader
}

// NewSigningEngine parses a PEM-encoded RSA private key (PKCS#8 or PKCS#1).
// Key material problems surface as SigningError.
func NewSigningEngine(pemKey []byte, clock Clock, entropy io.Reader) (*SigningEngine, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, &SigningError{Err: errors.New("no PEM block in signing key")}
	}
	var key *rsa.PrivateKey
	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, &SigningError{Err: errors.New("signing key is not RSA")}
		}
		key = rsaKey
	} else if parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		key = parsed
	} else {
		return nil, &SigningError{Err: fmt.Errorf("parse signing key: %w", err)}
	}
	return &SigningEngine{key: key, clock: clock, entropy: entropy}, nil
}

// Sign builds the canonical request for (method, rawURL, body) and returns the
// signature header set. The timestamp is taken from the engine clock once per
// call; a failed attempt must be re-signed with a fresh timestamp, never
// replayed with the old one.
func (e *SigningEngine) Sign(method, rawURL string, body []byte) (SignatureHeaders, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return SignatureHeaders{}, &SigningError{Err: fmt.Errorf("parse request url: %w", err)}
	}
	uri := u.EscapedPath()
	if uri == "" {
		uri = "/"
	}

	bodyDigest := hexSHA256(body)
	ts := e.clock.Now().UTC().Format(signingDateLayout)

	canonicalHeaders := strings.Join([]string{
		"host:" + strings.ToLower(u.Host),
		"x-content-sha256:" + bodyDigest,
		"x-date:" + ts,
	}, "\n")

	canonicalRequest := strings.Join([]string{
		strings.ToUpper(method),
		uri,
		u.RawQuery,
		canonicalHeaders,
		signedHeaderNames,
		bodyDigest,
	}, "\n")

	meta := strings.Join([]string{
		SigningAlgorithm,
		ts,
		hexSHA256([]byte(canonicalRequest)),
	}, "\n")
	stringToSign := sha256.Sum256([]byte(meta))

	sig, err := rsa.SignPSS(e.entropy, e.key, crypto.SHA256, stringToSign[:], &rsa.PSSOptions{
		SaltLength: 32,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return SignatureHeaders{}, &SigningError{Err: err}
	}

	return SignatureHeaders{
		ContentSHA256: bodyDigest,
		Date:          ts,
		SignedHeaders: signedHeaderNames,
		Signature:     hex.EncodeToString(sig),
		Algorithm:     SigningAlgorithm,
	}, nil
}

func hexSHA256(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
