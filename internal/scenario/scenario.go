// Package scenario decides which synthetic behavior the emitter shows at a
// given moment and generates the values that go with it.
package scenario

import "fmt"

type Scenario int

const (
	Benign Scenario = iota
	BotnetFlood
	BruteForce
)

// All lists every scenario in code order.
var All = []Scenario{Benign, BotnetFlood, BruteForce}

// Code is the value exported on the attack type gauge.
func (s Scenario) Code() int {
	return int(s)
}

func (s Scenario) String() string {
	switch s {
	case Benign:
		return "benign"
	case BotnetFlood:
		return "botnet_flood"
	case BruteForce:
		return "brute_force"
	}
	return fmt.Sprintf("scenario(%d)", int(s))
}

func (s Scenario) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Scenario) UnmarshalText(b []byte) error {
	for _, c := range All {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown scenario %q", string(b))
}
