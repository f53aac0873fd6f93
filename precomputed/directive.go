package precomputed

import (
	"regexp"
	"strconv"

	"github.com/janelia-flyem/n5ng"
)

var (
	setValueRx = regexp.MustCompile(`_n5ngSetValue(\d+)`)
	binarizeRx = regexp.MustCompile(`_n5ngBinarize`)
)

// Directive is a per-request transform embedded in a dataset path.  Both a value and
// binarization may be requested at once.
type Directive struct {
	HasValue bool
	Value    uint64
	Binarize bool
}

// None returns true if no transform was requested.
func (d Directive) None() bool {
	return !d.HasValue && !d.Binarize
}

// Override returns the value that replaces every positive element of extracted data.
// An explicit value wins over binarization, which maps to 1.
func (d Directive) Override() (uint64, bool) {
	switch {
	case d.HasValue:
		return d.Value, true
	case d.Binarize:
		return 1, true
	}
	return 0, false
}

func (d Directive) String() string {
	switch {
	case d.HasValue && d.Binarize:
		return "set-value(" + strconv.FormatUint(d.Value, 10) + ")+binarize"
	case d.HasValue:
		return "set-value(" + strconv.FormatUint(d.Value, 10) + ")"
	case d.Binarize:
		return "binarize"
	}
	return "none"
}

// DatasetRef is a dataset path split into the store key and its directives.
type DatasetRef struct {
	Raw       string
	Name      string
	Directive Directive
}

// ParseDatasetRef strips every directive token from a dataset path.  When several
// set-value tokens are present the last one wins.
func ParseDatasetRef(raw string) DatasetRef {
	ref := DatasetRef{Raw: raw}
	name := raw
	for {
		stripped := name
		for _, m := range setValueRx.FindAllStringSubmatch(stripped, -1) {
			v, err := strconv.ParseUint(m[1], 10, 64)
			if err != nil {
				n5ng.Warningf("Ignoring out of range value directive %q in dataset %q\n", m[0], raw)
				continue
			}
			ref.Directive.HasValue = true
			ref.Directive.Value = v
		}
		stripped = setValueRx.ReplaceAllString(stripped, "")
		if binarizeRx.MatchString(stripped) {
			ref.Directive.Binarize = true
			stripped = binarizeRx.ReplaceAllString(stripped, "")
		}
		if stripped == name {
			break
		}
		name = stripped
	}
	ref.Name = name
	return ref
}
