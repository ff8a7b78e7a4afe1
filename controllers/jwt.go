package controllers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"bilireply/models"
)

// jwtClaims is what issueToken puts in the token: sub is the local user id.
type jwtClaims struct {
	Sub int64  `json:"sub"`
	Mid string `json:"mid,omitempty"`
	Exp int64  `json:"exp"`
	Iat int64  `json:"iat"`
}

func getJWTSecret() string {
	if s := strings.TrimSpace(deps.Config.Security.JwtSecret); s != "" {
		return s
	}
	return "CHANGE_ME"
}

func tokenTTL() time.Duration {
	h := deps.Config.Security.TokenTTLHours
	if h <= 0 {
		h = 24 * 7
	}
	return time.Duration(h) * time.Hour
}

func issueToken(user models.User, now time.Time) (string, error) {
	return signHS256JWT(getJWTSecret(), map[string]any{
		"sub": user.ID,
		"mid": user.BiliUserID,
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL()).Unix(),
	})
}

func signHS256JWT(secret string, claims map[string]any) (string, error) {
	header := map[string]any{"alg": "HS256", "typ": "JWT"}
	headB, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	payloadB, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	enc := base64.RawURLEncoding
	unsigned := enc.EncodeToString(headB) + "." + enc.EncodeToString(payloadB)

	h := hmac.New(sha256.New, []byte(secret))
	_, _ = h.Write([]byte(unsigned))
	sig := enc.EncodeToString(h.Sum(nil))
	return unsigned + "." + sig, nil
}

// parseAndVerifyJWT verifies an HS256 token issued by issueToken.
func parseAndVerifyJWT(token string, secret string) (jwtClaims, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return jwtClaims{}, false
	}

	signingInput := parts[0] + "." + parts[1]
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return jwtClaims{}, false
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return jwtClaims{}, false
	}

	var claims jwtClaims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return jwtClaims{}, false
	}
	if claims.Sub <= 0 {
		return jwtClaims{}, false
	}
	return claims, true
}
