package storage

import "errors"

var (
	ErrUserExists           = errors.New("user already exists")
	ErrUserNotFound         = errors.New("user not found")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenConflict = errors.New("refresh token hash collision")
	ErrOAuthStateNotFound   = errors.New("oauth state not found")
	ErrResetTokenNotFound   = errors.New("reset token not found")
)
