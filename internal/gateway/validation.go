package gateway

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
)

const roomCodeLength = 6

// roomCodeAlphabet omits characters that are easy to misread when a code is
// shared aloud or on a screen (0/O, 1/I).
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// recordIDPattern is the store's 15-character alphanumeric id shape.
var recordIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]{15}$`)

// ValidateRoomCode uppercases code, strips everything outside [A-Z0-9], and
// rejects the result unless exactly six characters remain. Validating an
// already-valid code returns it unchanged.
func ValidateRoomCode(code string) (string, error) {
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	sanitized := b.String()
	if len(sanitized) != roomCodeLength {
		return "", fmt.Errorf("%w: room code %q is not %d alphanumeric characters", ErrInvalidInput, code, roomCodeLength)
	}
	return sanitized, nil
}

// GenerateRoomCode returns a fresh six-character room code. Uniqueness is
// effective, not guaranteed: the store has no unique index on room codes,
// so collisions are resolved at fetch time.
func GenerateRoomCode() string {
	var b strings.Builder
	for i := 0; i < roomCodeLength; i++ {
		b.WriteByte(roomCodeAlphabet[rand.IntN(len(roomCodeAlphabet))])
	}
	return b.String()
}

func validateRecordID(id string) (string, error) {
	if !recordIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q is not a valid record id", ErrInvalidInput, id)
	}
	return id, nil
}

// escapeFilterValue escapes quotes and backslashes so free text can be
// interpolated into a filter expression without breaking out of the quoted
// value.
func escapeFilterValue(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `"`, `\"`)
}

func equalsFilter(field, value string) string {
	return fmt.Sprintf(`%s="%s"`, field, escapeFilterValue(value))
}
