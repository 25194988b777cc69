package spam

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintNormalizes(t *testing.T) {
	assert.Equal(t, Fingerprint("Hello"), Fingerprint("  hello  "))
	assert.Equal(t, Fingerprint("HELLO\n"), Fingerprint("hello"))
	assert.NotEqual(t, Fingerprint("Hello"), Fingerprint("Hello!"))
}

func TestFingerprintIsMD5Hex(t *testing.T) {
	assert.Equal(t, Hash("5d41402abc4b2a76b9719d911017c592"), Fingerprint(" Hello "))
}
