// Package tokens persists the access/refresh token pair and the user record in
// cookies. Absent or malformed cookies read as empty values.
package tokens

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"mentorhub/pkg/domain"
)

const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
	UserCookie    = "user_data"
)

var errMalformedUser = errors.New("user_data cookie is malformed")

// Tokens is the bearer pair. Either value may be empty.
type Tokens struct {
	Access  string
	Refresh string
}

// Empty reports whether no access token is stored.
func (t Tokens) Empty() bool { return t.Access == "" }

// Storage is the cookie-backed token store.
type Storage interface {
	Store(access, refresh string)
	StoreUser(user domain.User) error
	Read() Tokens
	// ReadUser returns ok=false when the cookie is absent and an error when it
	// is present but cannot be decoded.
	ReadUser() (user domain.User, ok bool, err error)
	Clear()
}

// Options controls cookie lifetimes and attributes.
type Options struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	UserTTL    time.Duration
	Secure     bool
	Domain     string
	Path       string
	Now        func() time.Time
}

// DefaultOptions returns the production cookie policy.
func DefaultOptions() Options {
	return Options{
		AccessTTL:  24 * time.Hour,
		RefreshTTL: 7 * 24 * time.Hour,
		UserTTL:    7 * 24 * time.Hour,
		Secure:     true,
		Path:       "/",
	}
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.AccessTTL <= 0 {
		o.AccessTTL = def.AccessTTL
	}
	if o.RefreshTTL <= 0 {
		o.RefreshTTL = def.RefreshTTL
	}
	if o.UserTTL <= 0 {
		o.UserTTL = def.UserTTL
	}
	if o.Path == "" {
		o.Path = def.Path
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) cookie(name, value string, expires time.Time) *http.Cookie {
	now := o.Now()
	maxAge := int(expires.Sub(now).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     o.Path,
		Domain:   o.Domain,
		Expires:  expires.UTC(),
		MaxAge:   maxAge,
		Secure:   o.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (o Options) expired(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     o.Path,
		Domain:   o.Domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		Secure:   o.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// pairCookies builds the cookies written by Store. An empty refresh token leaves
// the refresh cookie untouched.
func (o Options) pairCookies(access, refresh string) []*http.Cookie {
	now := o.Now()
	out := make([]*http.Cookie, 0, 2)
	if access != "" {
		out = append(out, o.cookie(AccessCookie, access, AccessExpiry(access, now, o.AccessTTL)))
	}
	if refresh != "" {
		out = append(out, o.cookie(RefreshCookie, refresh, now.Add(o.RefreshTTL)))
	}
	return out
}

func (o Options) userCookie(user domain.User) (*http.Cookie, error) {
	data, err := json.Marshal(user)
	if err != nil {
		return nil, err
	}
	return o.cookie(UserCookie, base64.RawURLEncoding.EncodeToString(data), o.Now().Add(o.UserTTL)), nil
}

// AccessExpiry returns the exp claim of a JWT access token, or now+fallback
// when the token is opaque or carries no expiry.
func AccessExpiry(token string, now time.Time, fallback time.Duration) time.Time {
	if exp, ok := jwtExpiry(token); ok {
		return exp
	}
	return now.Add(fallback)
}

// Expired reports whether a JWT access token is past its exp claim. Opaque
// tokens never report expired; the API decides for those.
func Expired(token string, now time.Time) bool {
	exp, ok := jwtExpiry(token)
	return ok && !now.Before(exp)
}

func jwtExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// DecodeUser parses a user_data cookie value.
func DecodeUser(value string) (domain.User, error) {
	data, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return domain.User{}, errMalformedUser
	}
	var user domain.User
	if err := json.Unmarshal(data, &user); err != nil {
		return domain.User{}, errMalformedUser
	}
	return user, nil
}
