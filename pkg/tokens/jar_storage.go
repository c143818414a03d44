package tokens

import (
	"fmt"
	"net/http"
	"net/url"

	"mentorhub/pkg/domain"
)

// JarStorage keeps the cookies in an http.CookieJar scoped to the API origin,
// so a Go client holds them the way a browser would.
type JarStorage struct {
	jar  http.CookieJar
	u    *url.URL
	opts Options
}

// NewJarStorage scopes cookies to baseURL. Secure cookies are only set for
// https origins; a jar never returns them over plain http.
func NewJarStorage(jar http.CookieJar, baseURL string, opts Options) (*JarStorage, error) {
	if jar == nil {
		return nil, fmt.Errorf("cookie jar is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid cookie origin %q", baseURL)
	}
	opts = opts.normalized()
	opts.Secure = opts.Secure && u.Scheme == "https"
	return &JarStorage{
		jar:  jar,
		u:    &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"},
		opts: opts,
	}, nil
}

func (s *JarStorage) Store(access, refresh string) {
	s.jar.SetCookies(s.u, s.opts.pairCookies(access, refresh))
}

func (s *JarStorage) StoreUser(user domain.User) error {
	c, err := s.opts.userCookie(user)
	if err != nil {
		return err
	}
	s.jar.SetCookies(s.u, []*http.Cookie{c})
	return nil
}

func (s *JarStorage) Read() Tokens {
	return Tokens{
		Access:  s.value(AccessCookie),
		Refresh: s.value(RefreshCookie),
	}
}

func (s *JarStorage) ReadUser() (domain.User, bool, error) {
	raw := s.value(UserCookie)
	if raw == "" {
		return domain.User{}, false, nil
	}
	user, err := DecodeUser(raw)
	if err != nil {
		return domain.User{}, true, err
	}
	return user, true, nil
}

func (s *JarStorage) Clear() {
	s.jar.SetCookies(s.u, []*http.Cookie{
		s.opts.expired(AccessCookie),
		s.opts.expired(RefreshCookie),
		s.opts.expired(UserCookie),
	})
}

func (s *JarStorage) value(name string) string {
	for _, c := range s.jar.Cookies(s.u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}
