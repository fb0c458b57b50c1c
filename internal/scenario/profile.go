package scenario

// Profile holds the value bands for one scenario.
type Profile struct {
	Scenario Scenario
	CPUMin   float64
	CPUMax   float64
	NetMin   int64
	NetMax   int64
	LoginMin int64
	LoginMax int64
}

// Output is one synthetic tuple produced by a profile.
type Output struct {
	Scenario      Scenario `json:"scenario"`
	CPUPercent    float64  `json:"cpu_percent"`
	NetworkBytes  int64    `json:"network_bytes"`
	LoginFailures int      `json:"login_failures"`
	Code          int      `json:"code"`
}

var profiles = map[Scenario]Profile{
	Benign:      {Scenario: Benign, CPUMin: 1, CPUMax: 5, NetMin: 100, NetMax: 5_000},
	BotnetFlood: {Scenario: BotnetFlood, CPUMin: 80, CPUMax: 100, NetMin: 5_000_000, NetMax: 15_000_000},
	BruteForce:  {Scenario: BruteForce, CPUMin: 10, CPUMax: 20, NetMin: 20_000, NetMax: 50_000, LoginMin: 5, LoginMax: 20},
}

// ProfileFor returns the bands for s. Unknown scenarios get the benign profile.
func ProfileFor(s Scenario) Profile {
	if p, ok := profiles[s]; ok {
		return p
	}
	return profiles[Benign]
}

// Generate draws one tuple from the profile's bands.
func (p Profile) Generate(src Source) Output {
	out := Output{
		Scenario:     p.Scenario,
		CPUPercent:   uniform(src, p.CPUMin, p.CPUMax),
		NetworkBytes: uniformInt(src, p.NetMin, p.NetMax),
		Code:         p.Scenario.Code(),
	}
	if p.LoginMax > 0 {
		out.LoginFailures = int(uniformInt(src, p.LoginMin, p.LoginMax))
	}
	return out
}

// Generate is shorthand for ProfileFor(s).Generate(src).
func Generate(s Scenario, src Source) Output {
	return ProfileFor(s).Generate(src)
}
