// File: protocol/keyexchange.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// X25519 key agreement offered by ConnectionVersion14.

package protocol

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// SharedKeySize is the length of the derived session key.
const SharedKeySize = 32

var keyExchangeInfo = []byte("ripc-key-exchange")

// KeyPair is one side's ephemeral X25519 key.
type KeyPair struct {
	Private []byte
	Public  []byte
}

// GenerateKeyPair creates a clamped X25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand.Reader, priv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyExchange, err)
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyExchange, err)
	}
	return &KeyPair{Private: priv, Public: pub}, nil
}

// DeriveSharedKey combines our private key with the peer's public key and
// stretches the result with HKDF-SHA3-256.
func (kp *KeyPair) DeriveSharedKey(peerPublic []byte) ([]byte, error) {
	if len(peerPublic) != curve25519.PointSize {
		return nil, fmt.Errorf("%w: peer key of %d bytes", ErrKeyExchange, len(peerPublic))
	}
	secret, err := curve25519.X25519(kp.Private, peerPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyExchange, err)
	}
	kdf := hkdf.New(sha3.New256, secret, nil, keyExchangeInfo)
	key := make([]byte, SharedKeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyExchange, err)
	}
	return key, nil
}
