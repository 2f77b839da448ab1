package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	xerrors "XOS-Runner/internal/errors"
)

// Token 是服务端签发的 bearer token 及其过期时间。
type Token struct {
	Token     string
	ExpiresAt time.Time
}

// ParseToken 不校验签名，只读取 exp 声明。
func ParseToken(raw string) (Token, error) {
	if raw == "" {
		return Token{}, xerrors.New(xerrors.CodeInvalidArgument, "token 为空")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return Token{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "token 不是合法的 JWT")
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return Token{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "token exp 声明无效")
	}
	if exp == nil {
		return Token{}, xerrors.New(xerrors.CodeInvalidArgument, "token 缺少 exp 声明")
	}
	return Token{Token: raw, ExpiresAt: exp.Time}, nil
}

// Valid 判断 token 在 now 时刻是否仍可用：存在、可解析、带 exp 且 now < exp。
func Valid(raw string, now time.Time) bool {
	tok, err := ParseToken(raw)
	if err != nil {
		return false
	}
	return now.Before(tok.ExpiresAt)
}
