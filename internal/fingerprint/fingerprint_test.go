package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOfIsDeterministic(t *testing.T) {
	data := []byte("the same bytes")

	first := Of(data)
	second := Of(append([]byte(nil), data...))

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, Of([]byte("other bytes")))
}

func TestOfKnownValue(t *testing.T) {
	// sha256 of the empty input
	assert.Equal(t,
		"sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Of(nil).String())
}

func TestObjectKey(t *testing.T) {
	d := Of([]byte("x"))
	assert.Equal(t, d.Encoded()+".png", ObjectKey(d, ".png"))
}
