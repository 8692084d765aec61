package api

import (
	"encoding/hex"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/sha3"

	"duel/internal/match"
)

var (
	ErrInvalidAddress = &match.Error{Kind: match.KindValidation, Code: "invalid_address", Message: "address must be a 0x-prefixed 20-byte hex string with a valid checksum"}
	ErrInvalidToken   = &match.Error{Kind: match.KindNotAuthorized, Code: "invalid_token", Message: "token is missing, invalid, or issued for another address"}
)

// Authenticator turns an auth command into a player identifier. Without a
// secret any well-formed address is accepted.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(jwtSecret string) *Authenticator {
	a := &Authenticator{}
	if jwtSecret != "" {
		a.secret = []byte(jwtSecret)
	}
	return a
}

// Authenticate checks address and, when a secret is configured, that token
// is an HS256 JWT whose subject is address. It returns the lower-cased
// address.
func (a *Authenticator) Authenticate(address, token string) (string, error) {
	player, err := NormalizeAddress(address)
	if err != nil {
		return "", err
	}
	if a.secret == nil {
		return player, nil
	}
	if token == "" {
		return "", ErrInvalidToken
	}

	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || !strings.EqualFold(sub, player) {
		return "", ErrInvalidToken
	}
	return player, nil
}

// NormalizeAddress validates an Ethereum address and lower-cases it.
// All-lower and all-upper addresses skip the checksum; mixed case must
// match EIP-55.
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if len(address) != 42 || !(strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X")) {
		return "", ErrInvalidAddress
	}
	body := address[2:]
	if _, err := hex.DecodeString(body); err != nil {
		return "", ErrInvalidAddress
	}

	lower := strings.ToLower(body)
	if body != lower && body != strings.ToUpper(body) && checksum(lower) != body {
		return "", ErrInvalidAddress
	}
	return "0x" + lower, nil
}

// checksum returns the EIP-55 mixed-case form of a lower-case hex address
// without the prefix.
func checksum(lower string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := []byte(lower)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}
