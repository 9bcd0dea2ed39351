package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost parameters for interactive logins: 64 MiB memory, three
// passes, a single lane. Raising them later invalidates nothing, since
// stored hashes embed their own parameters and keep verifying.
const (
	passwordMemory  = 64 * 1024
	passwordPasses  = 3
	passwordLanes   = 1
	passwordKeyLen  = 32
	passwordSaltLen = 16
)

// HashPassword derives an Argon2id hash of password and encodes it in
// PHC form: $argon2id$v=19$m=65536,t=3,p=1$<salt>$<key>.
func HashPassword(password string) (string, error) {
	salt := make([]byte, passwordSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt,
		passwordPasses, passwordMemory, passwordLanes, passwordKeyLen)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, passwordMemory, passwordPasses, passwordLanes,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// VerifyPassword reports whether password matches the stored PHC hash.
// The cost parameters come from the hash itself, so hashes written under
// older defaults still verify, and the comparison is constant-time.
func VerifyPassword(password, stored string) (bool, error) {
	salt, key, memory, passes, lanes, err := parseStoredHash(stored)
	if err != nil {
		return false, err
	}

	derived := argon2.IDKey([]byte(password), salt, passes, memory, lanes, uint32(len(key))) //nolint:gosec // G115: key length always fits uint32
	return subtle.ConstantTimeCompare(key, derived) == 1, nil
}

// parseStoredHash unpacks a $argon2id$v=..$m=..,t=..,p=..$salt$key string.
func parseStoredHash(stored string) (salt, key []byte, memory, passes uint32, lanes uint8, err error) {
	parts := strings.Split(stored, "$")
	if len(parts) != 6 { //nolint:mnd // six $-delimited fields in PHC form
		return nil, nil, 0, 0, 0, fmt.Errorf("malformed password hash")
	}
	if parts[1] != "argon2id" {
		return nil, nil, 0, 0, 0, fmt.Errorf("unsupported hash algorithm %q", parts[1])
	}

	var version int
	if _, scanErr := fmt.Sscanf(parts[2], "v=%d", &version); scanErr != nil {
		return nil, nil, 0, 0, 0, fmt.Errorf("parsing hash version: %w", scanErr)
	}
	if _, scanErr := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &passes, &lanes); scanErr != nil {
		return nil, nil, 0, 0, 0, fmt.Errorf("parsing hash parameters: %w", scanErr)
	}

	if salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, nil, 0, 0, 0, fmt.Errorf("decoding salt: %w", err)
	}
	if key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, nil, 0, 0, 0, fmt.Errorf("decoding key: %w", err)
	}

	return salt, key, memory, passes, lanes, nil
}
