package core

import (
	"ShopChat/entity"
	"crypto/subtle"
	"fmt"
)

const localUser = "local"

// AuthenticateByToken checks the key guarding the local bridge API.
func (c *Core) AuthenticateByToken(token string) (*entity.UserAuth, error) {
	if c.authKey == "" {
		return nil, fmt.Errorf("local api key not configured")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(c.authKey)) != 1 {
		return nil, fmt.Errorf("invalid token")
	}
	user := &entity.UserAuth{Username: localUser, Token: token}
	if err := user.Bind(nil); err != nil {
		return nil, err
	}
	return user, nil
}

// ValidateToken is the bridge websocket authenticator.
func (c *Core) ValidateToken(token string) (string, error) {
	user, err := c.AuthenticateByToken(token)
	if err != nil {
		return "", err
	}
	return user.Username, nil
}
