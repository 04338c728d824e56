package tokens

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// * New генерирует непрозрачный одноразовый токен (UUIDv4, 122 бита случайности)
func New() (string, error) {
	const op = "tokens.New"

	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return id.String(), nil
}

// * Hash возвращает SHA-256 дайджест токена, в базе хранится только он
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
