package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptchaSingleUse(t *testing.T) {
	c := NewCaptcha(NewCache(nil, nil))
	id, img, err := c.Generate()
	require.NoError(t, err)
	assert.NotEmpty(t, img)

	answer := c.store.Get(id, false)
	require.NotEmpty(t, answer)

	assert.False(t, c.Verify(id, "wrong"+answer))
	assert.False(t, c.Verify(id, answer), "failed attempt consumes the captcha")

	id, _, err = c.Generate()
	require.NoError(t, err)
	answer = c.store.Get(id, false)
	assert.True(t, c.Verify(id, answer))
	assert.False(t, c.Verify(id, answer))
}
