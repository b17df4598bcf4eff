// Package sanitize cleans inbound reply text before it reaches the interpreter.
package sanitize

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// DefaultMaxReplySize is 4KB, well above any chat message.
	DefaultMaxReplySize = 4096
	// EnvMaxReplySize overrides the default limit.
	EnvMaxReplySize = "ATENDECHAT_MAX_REPLY_SIZE"
)

var (
	ErrReplyTooLarge = errors.New("reply exceeds maximum allowed size")
	ErrInvalidUTF8   = errors.New("reply contains invalid UTF-8 sequences")
)

// Reply enforces the size limit, validates UTF-8 and strips control characters
// other than newline, tab and carriage return.
// Oversized input is rejected, never truncated.
func Reply(input string) (string, error) {
	limit := maxReplySize()
	if len(input) > limit {
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrReplyTooLarge, len(input), limit)
	}
	if !utf8.ValidString(input) {
		return "", ErrInvalidUTF8
	}

	clean := true
	for _, r := range input {
		if unicode.IsControl(r) && !isSafeControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return input, nil
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if !unicode.IsControl(r) || isSafeControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

func isSafeControl(r rune) bool {
	return r == '\n' || r == '\t' || r == '\r'
}

func maxReplySize() int {
	if val := os.Getenv(EnvMaxReplySize); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			return size
		}
	}
	return DefaultMaxReplySize
}
