package scenario

// HazardModel generates CO2 readings. It never looks at the active scenario.
type HazardModel struct {
	SafeMin     float64
	SafeMax     float64
	HazardMin   float64
	HazardMax   float64
	Probability float64
}

type Reading struct {
	PPM       float64 `json:"ppm"`
	Hazardous bool    `json:"hazardous"`
}

func DefaultHazard() HazardModel {
	return HazardModel{
		SafeMin:     400,
		SafeMax:     800,
		HazardMin:   2000,
		HazardMax:   5000,
		Probability: 0.05,
	}
}

// Draw returns a safe-band reading, or with Probability a hazardous one.
func (h HazardModel) Draw(src Source) Reading {
	if src.Float64() < h.Probability {
		return Reading{PPM: uniform(src, h.HazardMin, h.HazardMax), Hazardous: true}
	}
	return Reading{PPM: uniform(src, h.SafeMin, h.SafeMax)}
}
