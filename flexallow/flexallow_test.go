package flexallow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAllowlisted(t *testing.T) {
	assert.True(t, IsAllowlisted("AddV2"))
	assert.True(t, IsAllowlisted("Tanh"))
	assert.True(t, IsAllowlisted("tf.Abs"))
	assert.True(t, IsAllowlisted("tf.RealDiv"))
	assert.False(t, IsAllowlisted("Conv2D"))
	assert.False(t, IsAllowlisted("tf.MatMul"))
	assert.False(t, IsAllowlisted(""))
}

func TestAllowlistedCount(t *testing.T) {
	assert.Equal(t, AllowlistedCount(), len(names))
	assert.Greater(t, AllowlistedCount(), 50)
}
