package job

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Seed is an integer in [-2^63, 2^64), the range torch.Generator accepts.
// It is held in canonical decimal form so seeds past MaxInt64 reach the
// backend and the result unchanged.
type Seed string

func SeedOf(n int64) Seed {
	return Seed(strconv.FormatInt(n, 10))
}

// ParseSeed accepts any integer in range, including integral floats such
// as 7.0 or 1e3.
func ParseSeed(s string) (Seed, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return SeedOf(i), nil
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return Seed(strconv.FormatUint(u, 10)), nil
	}
	fl, err := strconv.ParseFloat(s, 64)
	if err != nil || fl != math.Trunc(fl) || fl < math.MinInt64 || fl >= math.MaxUint64 {
		return "", fmt.Errorf("%s is not an integer in [-2^63, 2^64)", s)
	}
	if fl < 0 {
		return SeedOf(int64(fl)), nil
	}
	return Seed(strconv.FormatUint(uint64(fl), 10)), nil
}

func (s Seed) String() string {
	if s == "" {
		return "0"
	}
	return string(s)
}

// Int64 reports the seed as an int64, failing for seeds at or above 2^63.
func (s Seed) Int64() (int64, error) {
	return strconv.ParseInt(s.String(), 10, 64)
}

func (s Seed) MarshalJSON() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Seed) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid seed: %w", err)
	}
	seed, err := ParseSeed(n.String())
	if err != nil {
		return fmt.Errorf("invalid seed: %w", err)
	}
	*s = seed
	return nil
}
