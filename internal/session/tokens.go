package session

import (
	"context"
	"errors"
)

const (
	accessTokenKey  = "access_token"
	refreshTokenKey = "refresh_token"
)

// Tokens keeps the API bearer and refresh tokens in a Store. It satisfies
// apiclient.TokenStore.
type Tokens struct {
	store Store
}

func NewTokens(store Store) *Tokens {
	return &Tokens{store: store}
}

func (t *Tokens) AccessToken(ctx context.Context) (string, error) {
	return t.get(ctx, accessTokenKey)
}

func (t *Tokens) RefreshToken(ctx context.Context) (string, error) {
	return t.get(ctx, refreshTokenKey)
}

func (t *Tokens) SetTokens(ctx context.Context, access, refresh string) error {
	if err := t.store.Put(ctx, accessTokenKey, []byte(access)); err != nil {
		return err
	}
	if refresh == "" {
		return t.store.Delete(ctx, refreshTokenKey)
	}
	return t.store.Put(ctx, refreshTokenKey, []byte(refresh))
}

func (t *Tokens) SetAccessToken(ctx context.Context, access string) error {
	return t.store.Put(ctx, accessTokenKey, []byte(access))
}

func (t *Tokens) Clear(ctx context.Context) error {
	return errors.Join(
		t.store.Delete(ctx, accessTokenKey),
		t.store.Delete(ctx, refreshTokenKey),
	)
}

func (t *Tokens) get(ctx context.Context, key string) (string, error) {
	v, err := t.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(v), nil
}
