package util

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const saltSize = 16

type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        1,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

// PasswordHash is the stored form of a password: never the password itself.
type PasswordHash struct {
	Params Argon2idParams `json:"params"`
	Salt   []byte         `json:"salt"`
	Key    []byte         `json:"key"`
}

func DeriveArgon2idKey(passphrase, salt []byte, params Argon2idParams) ([]byte, error) {
	if params.KeyLen != 32 {
		return nil, fmt.Errorf("argon2id key length must be 32 bytes")
	}
	if params.Time == 0 || params.MemoryKiB == 0 || params.Parallelism == 0 {
		return nil, errors.New("argon2id params must be non-zero")
	}
	key := argon2.IDKey(passphrase, salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return key, nil
}

func CompareArgon2idKey(passphrase, salt []byte, params Argon2idParams, expectedKey []byte) (bool, error) {
	key, err := DeriveArgon2idKey(passphrase, salt, params)
	if err != nil {
		return false, err
	}
	defer WipeBytes(key)
	return subtle.ConstantTimeCompare(key, expectedKey) == 1, nil
}

// HashPassword normalizes the password and derives a salted argon2id hash.
func HashPassword(password []byte, params Argon2idParams) (PasswordHash, error) {
	salt, err := RandomBytes(saltSize)
	if err != nil {
		return PasswordHash{}, err
	}
	normalized := NormalizeBytes(password)
	defer WipeBytes(normalized)
	key, err := DeriveArgon2idKey(normalized, salt, params)
	if err != nil {
		return PasswordHash{}, err
	}
	return PasswordHash{Params: params, Salt: salt, Key: key}, nil
}

// Matches reports whether password hashes to h.
func (h PasswordHash) Matches(password []byte) (bool, error) {
	normalized := NormalizeBytes(password)
	defer WipeBytes(normalized)
	return CompareArgon2idKey(normalized, h.Salt, h.Params, h.Key)
}
