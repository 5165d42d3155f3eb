package specparse

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind is the broad component class a capacity string belongs to.
type Kind string

const (
	KindRAM   Kind = "RAM"
	KindSSD   Kind = "SSD"
	KindHDD   Kind = "HDD"
	KindNVMe  Kind = "NVMe"
	KindOther Kind = "Other"
)

// Component is a parsed ComponentSpec decorated with its class and technology.
type Component struct {
	ComponentSpec
	Kind       Kind   `json:"kind"`
	Technology string `json:"technology,omitempty"`
}

var sizeRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(MB|GB|TB)`)

// Classify maps a capacity string to a component class. Substring cues win;
// otherwise the size decides: up to 64GB is RAM, 128GB and up (or anything in
// TB) is storage, which defaults to SSD.
func Classify(capacity string) Kind {
	s := strings.ToLower(capacity)

	switch {
	case strings.Contains(s, "nvme"), strings.Contains(s, "m.2"), strings.Contains(s, "pcie"):
		return KindNVMe
	case strings.Contains(s, "ssd"), strings.Contains(s, "solid state"):
		return KindSSD
	case strings.Contains(s, "hdd"), strings.Contains(s, "rpm"), strings.Contains(s, "hard"):
		return KindHDD
	case strings.Contains(s, "ddr"), strings.Contains(s, "ram"), strings.Contains(s, "dimm"), strings.Contains(s, "mhz"):
		return KindRAM
	}

	m := sizeRe.FindStringSubmatch(s)
	if m == nil {
		return KindOther
	}
	size, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return KindOther
	}

	switch strings.ToUpper(m[2]) {
	case "TB":
		return KindSSD
	case "MB":
		return KindRAM
	}
	switch {
	case size <= 64:
		return KindRAM
	case size >= 128:
		return KindSSD
	default:
		return KindOther
	}
}

// technologies is searched in order, DDR generations newest first.
var technologies = []struct {
	needle string
	token  string
}{
	{"DDR5", "DDR5"},
	{"DDR4", "DDR4"},
	{"DDR3", "DDR3"},
	{"DDR2", "DDR2"},
	{"NVME", "NVMe"},
	{"M.2", "M.2"},
	{"SSD", "SSD"},
	{"HDD", "HDD"},
}

// Technology extracts a technology token from free text, or "" if none.
func Technology(text string) string {
	upper := strings.ToUpper(text)
	for _, t := range technologies {
		if strings.Contains(upper, t.needle) {
			return t.token
		}
	}
	return ""
}

// Expand parses text and classifies every resulting component. The technology
// token is taken from the whole input and doubles as a classification cue, so
// "2x1TB HDD" yields two HDDs rather than two storage-class defaults.
func Expand(text string) []Component {
	specs := Parse(text)
	tech := Technology(text)

	out := make([]Component, len(specs))
	for i, spec := range specs {
		out[i] = Component{
			ComponentSpec: spec,
			Kind:          Classify(strings.TrimSpace(spec.Capacity + " " + tech)),
			Technology:    tech,
		}
	}
	return out
}
