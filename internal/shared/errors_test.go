package shared

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserMessageDistinguishesCredentialsFromConnectivity(t *testing.T) {
	creds := UserMessage(fmt.Errorf("auth: login: %w", ErrInvalidCredentials))
	network := UserMessage(fmt.Errorf("auth: login: %w", ErrNetwork))

	assert.Equal(t, "Invalid email or password", creds)
	assert.Equal(t, "Unable to reach the server, please try again", network)
	assert.NotEqual(t, creds, network)
	assert.Empty(t, UserMessage(nil))
}

func TestIsSessionRejected(t *testing.T) {
	assert.True(t, IsSessionRejected(fmt.Errorf("profile: %w", ErrUnauthorized)))
	assert.True(t, IsSessionRejected(ErrTokenExpired))
	assert.False(t, IsSessionRejected(ErrNetwork))
	assert.False(t, IsSessionRejected(nil))
}
