package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// lookup parses the value behind key, or returns fallback when it is unset.
func lookup[T any](key string, fallback T, parse func(string) (T, error)) (T, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := parse(raw)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func positive[T int | float64 | time.Duration](v T, err error) (T, error) {
	if err == nil && v <= 0 {
		return 0, errors.New("must be > 0")
	}
	return v, err
}

func envPubkey(key string, fallback solana.PublicKey) (solana.PublicKey, error) {
	return lookup(key, fallback, solana.PublicKeyFromBase58)
}

func envCommitment(key string, fallback rpc.CommitmentType) (rpc.CommitmentType, error) {
	return lookup(key, fallback, func(raw string) (rpc.CommitmentType, error) {
		switch c := rpc.CommitmentType(strings.ToLower(raw)); c {
		case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
			return c, nil
		}
		return "", fmt.Errorf("%q (expected processed|confirmed|finalized)", raw)
	})
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	return lookup(key, fallback, func(raw string) (time.Duration, error) {
		return positive(time.ParseDuration(raw))
	})
}

func envInt(key string, fallback int) (int, error) {
	return lookup(key, fallback, func(raw string) (int, error) {
		return positive(strconv.Atoi(raw))
	})
}

// envSignedInt accepts any integer, including zero and negatives.
func envSignedInt(key string, fallback int) (int, error) {
	return lookup(key, fallback, strconv.Atoi)
}

// envFloat accepts zero, which several thresholds use as "disabled".
func envFloat(key string, fallback float64) (float64, error) {
	return lookup(key, fallback, func(raw string) (float64, error) {
		v, err := strconv.ParseFloat(raw, 64)
		if err == nil && v < 0 {
			return 0, errors.New("must be >= 0")
		}
		return v, err
	})
}

func envUint64(key string, fallback uint64) (uint64, error) {
	return lookup(key, fallback, func(raw string) (uint64, error) {
		return strconv.ParseUint(raw, 10, 64)
	})
}

func envUint32(key string, fallback uint32) (uint32, error) {
	return lookup(key, fallback, func(raw string) (uint32, error) {
		v, err := strconv.ParseUint(raw, 10, 32)
		return uint32(v), err
	})
}

func envOptionalUint(key string) (*uint, error) {
	return lookup[*uint](key, nil, func(raw string) (*uint, error) {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		out := uint(v)
		return &out, nil
	})
}

func envBool(key string, fallback bool) (bool, error) {
	return lookup(key, fallback, strconv.ParseBool)
}

func envOrDefault(key, fallback string) string {
	v, _ := lookup(key, fallback, func(raw string) (string, error) { return raw, nil })
	return v
}

// parseCSVEnv splits a comma list, dropping blanks. An empty result yields fallback.
func parseCSVEnv(raw string, fallback []string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if value := strings.TrimSpace(part); value != "" {
			out = append(out, value)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func expandHomePath(path string) (string, error) {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok || (rest != "" && !strings.HasPrefix(rest, "/")) {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, strings.TrimPrefix(rest, "/")), nil
}
