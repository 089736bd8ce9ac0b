package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/ricemill/backoffice/internal/db"
)

const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmBcrypt   = "bcrypt"
)

var ErrUnknownAlgorithm = errors.New("unknown password algorithm")

// Argon2Params are recorded with every verifier so that changing them later
// does not invalidate existing passwords.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:    1,
		Memory:  64 * 1024,
		Threads: 4,
		KeyLen:  32,
		SaltLen: 16,
	}
}

func (p Argon2Params) algorithm() string {
	return fmt.Sprintf("%s$m=%d,t=%d,p=%d", AlgorithmArgon2id, p.Memory, p.Time, p.Threads)
}

func parseArgon2Algorithm(alg string) (Argon2Params, error) {
	var p Argon2Params
	_, err := fmt.Sscanf(alg, AlgorithmArgon2id+"$m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads)
	if err != nil {
		return p, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
	}
	return p, nil
}

// PasswordHasher derives and checks one-way password verifiers.
type PasswordHasher struct {
	algorithm  string
	argon2     Argon2Params
	bcryptCost int
}

// NewPasswordHasher creates verifiers with algorithm (argon2id or bcrypt);
// verifiers of either kind are accepted by Verify.
func NewPasswordHasher(algorithm string, params Argon2Params, bcryptCost int) (*PasswordHasher, error) {
	if algorithm != AlgorithmArgon2id && algorithm != AlgorithmBcrypt {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
	return &PasswordHasher{algorithm: algorithm, argon2: params, bcryptCost: bcryptCost}, nil
}

func (h *PasswordHasher) Hash(password string) (db.Credential, error) {
	if h.algorithm == AlgorithmBcrypt {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), h.bcryptCost)
		if err != nil {
			return db.Credential{}, err
		}
		return db.Credential{Algorithm: AlgorithmBcrypt, Hash: hash}, nil
	}

	salt := make([]byte, h.argon2.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return db.Credential{}, err
	}
	p := h.argon2
	hash := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return db.Credential{Algorithm: p.algorithm(), Salt: salt, Hash: hash}, nil
}

// Verify recomputes the verifier and compares in constant time.
func (h *PasswordHasher) Verify(cred db.Credential, password string) (bool, error) {
	switch {
	case cred.Algorithm == AlgorithmBcrypt:
		err := bcrypt.CompareHashAndPassword(cred.Hash, []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return err == nil, err
	case strings.HasPrefix(cred.Algorithm, AlgorithmArgon2id+"$"):
		p, err := parseArgon2Algorithm(cred.Algorithm)
		if err != nil {
			return false, err
		}
		got := argon2.IDKey([]byte(password), cred.Salt, p.Time, p.Memory, p.Threads, uint32(len(cred.Hash)))
		return subtle.ConstantTimeCompare(got, cred.Hash) == 1, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, cred.Algorithm)
	}
}

// NeedsRehash reports whether cred was derived with other than the current
// algorithm and parameters.
func (h *PasswordHasher) NeedsRehash(cred db.Credential) bool {
	if h.algorithm == AlgorithmBcrypt {
		if cred.Algorithm != AlgorithmBcrypt {
			return true
		}
		cost, err := bcrypt.Cost(cred.Hash)
		return err != nil || cost != h.bcryptCost
	}
	return cred.Algorithm != h.argon2.algorithm() || len(cred.Hash) != int(h.argon2.KeyLen)
}
