package models

import "fmt"

// CCMethod enumerates the supported cross-spectrum operations.
type CCMethod string

const (
	// CCRaw forms the plain cross-spectrum conj(S)*R.
	CCRaw CCMethod = "xcorr"
	// CCDeconv divides the cross-spectrum by the smoothed source spectral energy.
	CCDeconv CCMethod = "deconv"
	// CCCoherency normalizes by both source and receiver spectral amplitude.
	CCCoherency CCMethod = "coherency"
)

// ParseCCMethod validates a configured correlation method name.
func ParseCCMethod(name string) (CCMethod, error) {
	switch CCMethod(name) {
	case CCRaw, CCDeconv, CCCoherency:
		return CCMethod(name), nil
	}
	return "", fmt.Errorf("unknown correlation method %q", name)
}

// StackMethod enumerates the supported stacking laws.
type StackMethod string

const (
	StackLinear    StackMethod = "linear"
	StackPWS       StackMethod = "pws"
	StackRobust    StackMethod = "robust"
	StackNRoot     StackMethod = "nroot"
	StackSelective StackMethod = "selective"
	StackAutoCov   StackMethod = "auto_covariance"
	// StackAll runs linear, pws and robust together for comparison.
	StackAll StackMethod = "all"
)

// ParseStackMethod validates a configured stacking method name.
func ParseStackMethod(name string) (StackMethod, error) {
	switch StackMethod(name) {
	case StackLinear, StackPWS, StackRobust, StackNRoot, StackSelective, StackAutoCov, StackAll:
		return StackMethod(name), nil
	}
	return "", fmt.Errorf("unknown stacking method %q", name)
}

// SelectionPolicy restricts which receiver rows a source is correlated with.
type SelectionPolicy string

const (
	// SelectAll correlates every source with all receivers at or after it.
	SelectAll SelectionPolicy = "all"
	// SelectAutoOnly restricts receivers to co-located sensor components.
	SelectAutoOnly SelectionPolicy = "auto"
	// SelectCrossOnly excludes co-located sensor components.
	SelectCrossOnly SelectionPolicy = "cross"
)

// ParseSelectionPolicy validates a configured pair-selection policy.
func ParseSelectionPolicy(name string) (SelectionPolicy, error) {
	switch SelectionPolicy(name) {
	case SelectAll, SelectAutoOnly, SelectCrossOnly:
		return SelectionPolicy(name), nil
	}
	return "", fmt.Errorf("unknown pair selection policy %q", name)
}
