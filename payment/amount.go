package payment

import (
	"fmt"
	"strconv"
	"strings"
)

// Amount is a BRL value in cents
type Amount int64

// String formats the amount with two decimals, e.g. "10.00"
func (a Amount) String() string {
	sign := ""
	if a < 0 {
		sign = "-"
		a = -a
	}
	return fmt.Sprintf("%s%d.%02d", sign, a/100, a%100)
}

// Reais renders the amount for prompts and receipts, e.g. "R$ 10.00"
func (a Amount) Reais() string {
	return "R$ " + a.String()
}

// ParseAmount accepts "10", "10.5", "10.50" or "10,50"
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(strings.Replace(s, ",", ".", 1))
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units < 0 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	var cents int64
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
		if len(frac) == 1 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil || cents < 0 {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
	}
	return Amount(units*100 + cents), nil
}

// MarshalYAML and UnmarshalYAML keep catalog prices human readable
func (a Amount) MarshalYAML() (any, error) {
	return a.String(), nil
}

func (a *Amount) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	v, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// MarshalJSON emits the amount as a decimal string
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(a.String())), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	v, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
