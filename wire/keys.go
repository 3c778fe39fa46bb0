package wire

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
)

// KeySize is the RSA modulus size used for Master<->Node/Worker pairing.
// The original implementation defaults to 4096; production-grade entropy
// at that size is expensive to generate repeatedly in tests, but the
// constant is kept faithful to the source and overridable via GenerateKeyPairSize.
const KeySize = 4096

// GenerateKeyPair creates a fresh RSA key pair, returning both the public
// and the full key file encodings described in §6.
func GenerateKeyPair() (pub KeyFile, priv KeyFile, key *rsa.PrivateKey, err error) {
	return GenerateKeyPairSize(KeySize)
}

// GenerateKeyPairSize is GenerateKeyPair with an explicit modulus size,
// used by tests to avoid the cost of full 4096-bit generation.
func GenerateKeyPairSize(bits int) (pub KeyFile, priv KeyFile, key *rsa.PrivateKey, err error) {
	key, err = rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	key.Precompute()

	n := key.N.String()
	e := big.NewInt(int64(key.E)).String()
	d := key.D.String()
	// rsa.PrivateKey stores CRT primes as Primes[0]=p, Primes[1]=q; the
	// original key file order is [n, e, d, q, p].
	p := key.Primes[0].String()
	q := key.Primes[1].String()

	pub = KeyFile{n, e}
	priv = KeyFile{n, e, d, q, p}
	return pub, priv, key, nil
}

// PublicKeyFromKeyFile reconstructs an *rsa.PublicKey from a 2-element
// KeyFile ([n, e]).
func PublicKeyFromKeyFile(k KeyFile) (*rsa.PublicKey, error) {
	if len(k) < 2 {
		return nil, fmt.Errorf("key file too short: need at least [n,e], got %d elements", len(k))
	}
	n, ok := new(big.Int).SetString(k[0], 10)
	if !ok {
		return nil, fmt.Errorf("invalid modulus in key file")
	}
	e, ok := new(big.Int).SetString(k[1], 10)
	if !ok {
		return nil, fmt.Errorf("invalid exponent in key file")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// PrivateKeyFromKeyFile reconstructs an *rsa.PrivateKey from a 5-element
// KeyFile ([n, e, d, q, p]).
func PrivateKeyFromKeyFile(k KeyFile) (*rsa.PrivateKey, error) {
	if len(k) < 5 {
		return nil, fmt.Errorf("key file too short: need [n,e,d,q,p], got %d elements", len(k))
	}
	pub, err := PublicKeyFromKeyFile(k[:2])
	if err != nil {
		return nil, err
	}
	d, ok := new(big.Int).SetString(k[2], 10)
	if !ok {
		return nil, fmt.Errorf("invalid private exponent in key file")
	}
	q, ok := new(big.Int).SetString(k[3], 10)
	if !ok {
		return nil, fmt.Errorf("invalid prime q in key file")
	}
	p, ok := new(big.Int).SetString(k[4], 10)
	if !ok {
		return nil, fmt.Errorf("invalid prime p in key file")
	}
	priv := &rsa.PrivateKey{
		PublicKey: *pub,
		D:         d,
		Primes:    []*big.Int{p, q},
	}
	priv.Precompute()
	return priv, nil
}

// LoadOrCreateKeyPair loads an RSA key pair from path, generating and
// persisting a new one if the file does not exist. The file is written
// with 0400 permissions per §6. Returns the private key along with both
// key file encodings.
func LoadOrCreateKeyPair(path string, bits int) (pub KeyFile, priv KeyFile, key *rsa.PrivateKey, err error) {
	if data, readErr := os.ReadFile(path); readErr == nil {
		kf, parseErr := ParseKeyFile(data)
		if parseErr != nil {
			return nil, nil, nil, fmt.Errorf("failed to parse key file %s: %w", path, parseErr)
		}
		if !kf.IsKeyPair() {
			return nil, nil, nil, fmt.Errorf("key file %s does not contain a private key", path)
		}
		key, err = PrivateKeyFromKeyFile(kf)
		if err != nil {
			return nil, nil, nil, err
		}
		return kf[:2], kf, key, nil
	}

	pub, priv, key, err = GenerateKeyPairSize(bits)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := WriteKeyFile(path, priv); err != nil {
		return nil, nil, nil, err
	}
	return pub, priv, key, nil
}

// WriteKeyFile serializes a KeyFile to JSON and writes it with 0400
// permissions, per §6.
func WriteKeyFile(path string, kf KeyFile) error {
	data, err := json.Marshal(kf)
	if err != nil {
		return fmt.Errorf("failed to marshal key file: %w", err)
	}
	if err := os.WriteFile(path, data, 0400); err != nil {
		return fmt.Errorf("failed to write key file %s: %w", path, err)
	}
	return nil
}

// ParseKeyFile decodes JSON key file bytes into a KeyFile.
func ParseKeyFile(data []byte) (KeyFile, error) {
	var kf KeyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal key file: %w", err)
	}
	return kf, nil
}
