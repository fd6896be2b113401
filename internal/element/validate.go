package element

import "fmt"

// Thresholds are the minimum element counts a city needs per type.
// Cultural has no floor.
type Thresholds struct {
	Slang    int `yaml:"min_slang"`
	Landmark int `yaml:"min_landmark"`
	Sport    int `yaml:"min_sport"`
}

// DefaultThresholds are the coverage minimums used when none are configured.
var DefaultThresholds = Thresholds{Slang: 5, Landmark: 5, Sport: 3}

// Counts holds per-type element counts and whether the minimums are met.
type Counts struct {
	Slang    int  `json:"slang"`
	Landmark int  `json:"landmark"`
	Sport    int  `json:"sport"`
	Cultural int  `json:"cultural"`
	IsValid  bool `json:"is_valid"`

	thresholds Thresholds
}

// CountAndValidate counts elements by type against DefaultThresholds.
func CountAndValidate(elements []Element) Counts {
	return DefaultThresholds.CountAndValidate(elements)
}

// CountAndValidate counts elements by type against th.
func (th Thresholds) CountAndValidate(elements []Element) Counts {
	c := Counts{thresholds: th}
	for _, e := range elements {
		switch e.Type {
		case Slang:
			c.Slang++
		case Landmark:
			c.Landmark++
		case Sport:
			c.Sport++
		case Cultural:
			c.Cultural++
		}
	}
	c.IsValid = c.Slang >= th.Slang && c.Landmark >= th.Landmark && c.Sport >= th.Sport
	return c
}

// Shortfalls describes each unmet minimum, e.g. "slang 2/5".
func (c Counts) Shortfalls() []string {
	var out []string
	if c.Slang < c.thresholds.Slang {
		out = append(out, fmt.Sprintf("slang %d/%d", c.Slang, c.thresholds.Slang))
	}
	if c.Landmark < c.thresholds.Landmark {
		out = append(out, fmt.Sprintf("landmark %d/%d", c.Landmark, c.thresholds.Landmark))
	}
	if c.Sport < c.thresholds.Sport {
		out = append(out, fmt.Sprintf("sport %d/%d", c.Sport, c.thresholds.Sport))
	}
	return out
}
