package tokens

import (
	"net/http"

	"mentorhub/pkg/domain"
)

// HTTPStorage is the server side of the cookie pair: it reads the request's
// cookies and writes Set-Cookie headers. Writes made while handling the
// request are visible to later reads of the same request.
type HTTPStorage struct {
	w       http.ResponseWriter
	r       *http.Request
	opts    Options
	pending map[string]*http.Cookie
}

// NewHTTPStorage binds storage to one request/response pair.
func NewHTTPStorage(w http.ResponseWriter, r *http.Request, opts Options) *HTTPStorage {
	return &HTTPStorage{
		w:       w,
		r:       r,
		opts:    opts.normalized(),
		pending: make(map[string]*http.Cookie),
	}
}

func (s *HTTPStorage) Store(access, refresh string) {
	for _, c := range s.opts.pairCookies(access, refresh) {
		s.set(c)
	}
}

func (s *HTTPStorage) StoreUser(user domain.User) error {
	c, err := s.opts.userCookie(user)
	if err != nil {
		return err
	}
	s.set(c)
	return nil
}

func (s *HTTPStorage) Read() Tokens {
	return Tokens{
		Access:  s.value(AccessCookie),
		Refresh: s.value(RefreshCookie),
	}
}

func (s *HTTPStorage) ReadUser() (domain.User, bool, error) {
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

func (s *HTTPStorage) Clear() {
	for _, name := range []string{AccessCookie, RefreshCookie, UserCookie} {
		s.set(s.opts.expired(name))
	}
}

func (s *HTTPStorage) set(c *http.Cookie) {
	s.pending[c.Name] = c
	http.SetCookie(s.w, c)
}

func (s *HTTPStorage) value(name string) string {
	if c, ok := s.pending[name]; ok {
		if c.MaxAge < 0 {
			return ""
		}
		return c.Value
	}
	if s.r == nil {
		return ""
	}
	c, err := s.r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
