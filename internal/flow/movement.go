package flow

import (
	"fmt"
	"strings"
)

// MovementType is one of the inventory movement kinds a request may select.
type MovementType string

const (
	MovementFDO     MovementType = "FDO"
	MovementPDO     MovementType = "PDO"
	MovementWDO     MovementType = "WDO"
	MovementMLO     MovementType = "MLO"
	MovementESTATUS MovementType = "ESTATUS"
)

// MovementTypes lists every accepted token.
var MovementTypes = []MovementType{MovementFDO, MovementPDO, MovementWDO, MovementMLO, MovementESTATUS}

// ParseMovementType normalizes and validates a single token.
func ParseMovementType(token string) (MovementType, error) {
	t := MovementType(strings.ToUpper(strings.TrimSpace(token)))
	for _, mt := range MovementTypes {
		if mt == t {
			return mt, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMovementType, token)
}

// ParseMovementTypes normalizes tokens, silently dropping blanks, unknown
// values and duplicates. Order of first appearance is kept.
func ParseMovementTypes(tokens []string) []MovementType {
	out := make([]MovementType, 0, len(tokens))
	seen := make(map[MovementType]bool, len(tokens))
	for _, tok := range tokens {
		mt, err := ParseMovementType(tok)
		if err != nil || seen[mt] {
			continue
		}
		seen[mt] = true
		out = append(out, mt)
	}
	return out
}

// ParseMovementTypesStrict is like ParseMovementTypes but rejects unknown
// non-blank tokens.
func ParseMovementTypesStrict(tokens []string) ([]MovementType, error) {
	for _, tok := range tokens {
		if strings.TrimSpace(tok) == "" {
			continue
		}
		if _, err := ParseMovementType(tok); err != nil {
			return nil, err
		}
	}
	return ParseMovementTypes(tokens), nil
}

// MovementTokens converts movement types back to plain strings.
func MovementTokens(types []MovementType) []string {
	out := make([]string, len(types))
	for i, mt := range types {
		out[i] = string(mt)
	}
	return out
}

func containsAny(types []MovementType, want ...MovementType) bool {
	for _, mt := range types {
		for _, w := range want {
			if mt == w {
				return true
			}
		}
	}
	return false
}
