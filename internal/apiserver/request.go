package apiserver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/orca/backend/internal/whirlpool"
)

// originPolicy decides which browser origins may call the API. An empty or
// wildcard list allows every origin.
type originPolicy struct {
	any     bool
	allowed map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, origin := range origins {
		switch origin = strings.TrimSpace(origin); origin {
		case "":
		case "*":
			p.any = true
		default:
			p.allowed[origin] = struct{}{}
		}
	}
	p.any = p.any || len(p.allowed) == 0
	return p
}

func (p originPolicy) allows(origin string) bool {
	if origin == "" || p.any {
		return true
	}
	_, ok := p.allowed[origin]
	return ok
}

func (s *Service) isOriginAllowed(origin string) bool {
	return s.origins.allows(origin)
}

func (s *Service) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := strings.TrimSpace(r.Header.Get("Origin")); origin != "" && s.origins.allows(origin) {
			h := w.Header()
			if s.origins.any {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Access-Control-Max-Age", "300")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// queryValue parses the query parameter key. A missing value yields fallback,
// or an error when required is set.
func queryValue[T any](r *http.Request, key string, fallback T, required bool, parse func(string) (T, error)) (T, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		if required {
			return fallback, fmt.Errorf("%s is required", key)
		}
		return fallback, nil
	}
	v, err := parse(raw)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseOptionalInt(r *http.Request, key string, fallback int) (int, error) {
	return queryValue(r, key, fallback, false, strconv.Atoi)
}

func parseOptionalFloat(r *http.Request, key string, fallback float64) (float64, error) {
	return queryValue(r, key, fallback, false, func(raw string) (float64, error) {
		return strconv.ParseFloat(raw, 64)
	})
}

func parseRequiredUint64(r *http.Request, key string) (uint64, error) {
	return queryValue(r, key, 0, true, func(raw string) (uint64, error) {
		return strconv.ParseUint(raw, 10, 64)
	})
}

// parseAddressParam validates a base58 address taken from a path or query value.
func parseAddressParam(raw string, key string) (solana.PublicKey, error) {
	if strings.TrimSpace(raw) == "" {
		return solana.PublicKey{}, fmt.Errorf("%s is required", key)
	}
	address, err := whirlpool.ParseAddress(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return address, nil
}
