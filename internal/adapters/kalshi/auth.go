package kalshi

// auth.go: firma de requests autenticados de Kalshi.
//
// Cada request lleva tres headers:
//   KALSHI-ACCESS-KEY        id de la API key
//   KALSHI-ACCESS-TIMESTAMP  unix ms
//   KALSHI-ACCESS-SIGNATURE  base64(RSA-PSS-SHA256(timestamp + METHOD + path))
//
// El path firmado incluye el prefijo /trade-api/v2 y excluye la query string.

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

const (
	headerKey       = "KALSHI-ACCESS-KEY"
	headerTimestamp = "KALSHI-ACCESS-TIMESTAMP"
	headerSignature = "KALSHI-ACCESS-SIGNATURE"
)

// Signer firma requests con la clave RSA de la cuenta.
type Signer struct {
	keyID string
	key   *rsa.PrivateKey
	now   func() time.Time
}

// NewSigner crea un Signer a partir de una clave ya parseada.
func NewSigner(keyID string, key *rsa.PrivateKey) (*Signer, error) {
	if keyID == "" {
		return nil, errors.New("kalshi.NewSigner: empty key id")
	}
	if key == nil {
		return nil, errors.New("kalshi.NewSigner: nil private key")
	}
	return &Signer{keyID: keyID, key: key, now: time.Now}, nil
}

// LoadSigner lee una clave PEM (PKCS#1 o PKCS#8) desde disco.
func LoadSigner(keyID, path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kalshi.LoadSigner: read key: %w", err)
	}
	key, err := ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("kalshi.LoadSigner: %w", err)
	}
	return NewSigner(keyID, key)
}

// ParsePrivateKey decodifica una clave RSA en PEM.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want RSA", parsed)
	}
	return key, nil
}

// KeyID devuelve el id de la API key.
func (s *Signer) KeyID() string { return s.keyID }

// Sign devuelve la firma base64 del mensaje timestamp+method+path.
func (s *Signer) Sign(timestampMs, method, path string) (string, error) {
	digest := sha256.Sum256([]byte(timestampMs + method + path))
	sig, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return "", fmt.Errorf("kalshi.Sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// apply agrega los headers de auth a req.
func (s *Signer) apply(req *http.Request) error {
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	sig, err := s.Sign(ts, req.Method, req.URL.Path)
	if err != nil {
		return err
	}
	req.Header.Set(headerKey, s.keyID)
	req.Header.Set(headerTimestamp, ts)
	req.Header.Set(headerSignature, sig)
	return nil
}
