// Package plan derives ordered step plans from modpack target descriptors.
// Building a plan has no side effects: the same descriptor always yields the
// same steps, which lets the orchestrator re-derive effort estimates at start
// time without persisting them.
package plan

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

// ErrEmptyTarget rejects blank target descriptors before anything is created.
var ErrEmptyTarget = errors.New("plan: target descriptor required")

// Step is the template for one unit of work. Effort is an abstract estimate
// in whole units, consumed by the step worker; it is never persisted.
type Step struct {
	Name        string
	Description string
	Effort      int
}

// baseSteps is the pipeline every modpack deployment goes through, in order.
var baseSteps = []Step{
	{Name: "Validate URL", Description: "Verify the modpack URL is well formed and reachable", Effort: 1},
	{Name: "Download Modpack", Description: "Fetch the modpack archive from the target URL", Effort: 5},
	{Name: "Extract Files", Description: "Unpack the archive into the server workspace", Effort: 3},
	{Name: "Install Forge/Fabric", Description: "Install the modloader required by the pack manifest", Effort: 4},
	{Name: "Configure Server", Description: "Apply pack overrides and generate server configuration", Effort: 2},
	{Name: "Allocate Resources", Description: "Reserve memory and ports for the server instance", Effort: 2},
	{Name: "Start Server", Description: "Boot the server and wait for it to accept connections", Effort: 3},
}

// heavyMarkers flag descriptors that warrant world pre-generation before the
// server boots.
var heavyMarkers = []string{"large", "big", "mega"}

// Build derives the ordered, non-empty step plan for a target descriptor.
func Build(target string) ([]Step, error) {
	trimmed := strings.TrimSpace(target)
	if trimmed == "" {
		return nil, ErrEmptyTarget
	}

	steps := make([]Step, len(baseSteps))
	copy(steps, baseSteps)

	if isHeavy(trimmed) {
		pregen := Step{
			Name:        "Pre-generate World",
			Description: "Pre-generate spawn chunks for a heavy modpack",
			Effort:      6,
		}
		boot := steps[len(steps)-1]
		steps = append(steps[:len(steps)-1], pregen, boot)
	}
	return steps, nil
}

func isHeavy(target string) bool {
	lowered := strings.ToLower(target)
	for _, marker := range heavyMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// DeriveName produces a display name from a target descriptor, falling back
// to the raw descriptor when it is not a URL with a usable path.
func DeriveName(target string) string {
	name := strings.TrimSpace(target)
	if parsed, err := url.Parse(name); err == nil {
		if base := path.Base(parsed.Path); base != "" && base != "." && base != "/" {
			name = base
		}
	}
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}
	name = strings.NewReplacer("-", " ", "_", " ", "+", " ").Replace(name)
	return strings.Join(strings.Fields(name), " ")
}
