package storage

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// ErrTokenExists is returned when a user/token mapping is already stored.
var ErrTokenExists = errors.New("client token mapping already exists")

// TokenMapping binds a push client token to the user it notifies.
type TokenMapping struct {
	User  common.Address `json:"user"`
	Token string         `json:"token"`
}

// TokenStore persists push client tokens across restarts.
type TokenStore interface {
	AddToken(ctx context.Context, user common.Address, token string) error
	DeleteToken(ctx context.Context, user common.Address, token string) error
	ListTokens(ctx context.Context) ([]TokenMapping, error)
}
