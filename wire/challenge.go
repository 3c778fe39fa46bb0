package wire

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"math/big"
)

// ChallengeSize mirrors the source's key_size/16 byte nonce (4096/16=256).
func ChallengeSize(keyBits int) int {
	return keyBits / 16
}

// NewNonce generates a random nonce of n bytes.
func NewNonce(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return buf, nil
}

// EncryptForPeer encrypts a nonce with the peer's public key using unpadded
// RSA (m^e mod n), left-padded to the modulus size. The handshake compares
// digests of two separate encryptions of the same nonce under the same key,
// so the transform is deterministic; randomized paddings such as OAEP or
// PKCS1v15 would never produce matching digests.
func EncryptForPeer(pub *rsa.PublicKey, nonce []byte) ([]byte, error) {
	m := new(big.Int).SetBytes(nonce)
	if m.Cmp(pub.N) >= 0 {
		return nil, fmt.Errorf("failed to encrypt challenge: nonce too long for RSA key size")
	}
	c := new(big.Int).Exp(m, big.NewInt(int64(pub.E)), pub.N)
	return c.FillBytes(make([]byte, (pub.N.BitLen()+7)/8)), nil
}

// DecryptOwn decrypts ciphertext previously produced with EncryptForPeer
// using our own private key. Leading zero bytes of the original nonce are
// not restored; re-encrypting the result still yields the same ciphertext.
func DecryptOwn(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	c := new(big.Int).SetBytes(ciphertext)
	if c.Cmp(priv.N) >= 0 {
		return nil, fmt.Errorf("failed to decrypt challenge: ciphertext out of range")
	}
	return new(big.Int).Exp(c, priv.D, priv.N).Bytes(), nil
}

// HashEncrypted returns the hex-encoded SHA-512 digest of encrypted bytes,
// the value actually compared during auth_response (§4.6): "hashes the
// encrypted bytes with SHA-512, returns the hex digest".
func HashEncrypted(encrypted []byte) string {
	sum := sha512.Sum512(encrypted)
	return hex.EncodeToString(sum[:])
}
