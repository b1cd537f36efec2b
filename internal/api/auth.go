package api

import (
	"crypto/subtle"
	"net/http"
	"sync"
)

// AdminValidator decides whether a request carries the operator role.
type AdminValidator interface {
	Validate(r *http.Request) (bool, error)
}

// KeyValidator accepts requests whose X-Api-Key header matches a configured key.
type KeyValidator struct {
	mu   sync.RWMutex
	keys []string
}

func NewKeyValidator(keys []string) *KeyValidator {
	v := &KeyValidator{}
	v.SetKeys(keys)
	return v
}

// SetKeys replaces the accepted keys. Empty keys are ignored.
func (v *KeyValidator) SetKeys(keys []string) {
	clean := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			clean = append(clean, k)
		}
	}

	v.mu.Lock()
	v.keys = clean
	v.mu.Unlock()
}

func (v *KeyValidator) Validate(r *http.Request) (bool, error) {
	key := r.Header.Get("X-Api-Key")
	if key == "" {
		return false, nil
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, k := range v.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

func (s *HTTPServer) requireOperator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.isOperator(w, r) {
			return
		}
		next(w, r)
	}
}

// isOperator writes the rejection itself and reports whether to continue.
func (s *HTTPServer) isOperator(w http.ResponseWriter, r *http.Request) bool {
	if s.admin == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	ok, err := s.admin.Validate(r)
	if err != nil {
		s.logger.Error().Err(err).Msg("admin validation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return false
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	return true
}
