package fleet

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// UpdatePolicy: политика автообновления агентов.
type UpdatePolicy string

const (
	UpdateOff       UpdatePolicy = "off"
	UpdatePerDevice UpdatePolicy = "per_device"
	UpdateForceOn   UpdatePolicy = "force_on"
)

// ParseUpdatePolicy validates a policy name.
func ParseUpdatePolicy(v string) (UpdatePolicy, error) {
	switch p := UpdatePolicy(strings.TrimSpace(v)); p {
	case UpdateOff, UpdatePerDevice, UpdateForceOn:
		return p, nil
	}
	return "", fmt.Errorf("%w: invalid agent_update_policy %q", ErrInvalidArgument, v)
}

// AgentUpdate is the update advice handed to an agent on registration.
type AgentUpdate struct {
	Enabled        bool   `json:"enabled"`
	URL            string `json:"url,omitempty"`
	MinVersion     string `json:"min_version,omitempty"`
	UpdateRequired bool   `json:"update_required"`
}

// DecideAgentUpdate combines the controller policy with the per-device flag.
// An unparsable agent version never triggers update_required.
func DecideAgentUpdate(policy UpdatePolicy, deviceAllowed bool, url, minVersion, agentVersion string) AgentUpdate {
	enabled := policy == UpdateForceOn || (policy == UpdatePerDevice && deviceAllowed)
	if !enabled {
		return AgentUpdate{}
	}
	out := AgentUpdate{Enabled: true, URL: url, MinVersion: minVersion}
	if minVersion == "" || agentVersion == "" {
		return out
	}
	minV, err := semver.NewVersion(minVersion)
	if err != nil {
		return out
	}
	cur, err := semver.NewVersion(strings.TrimSpace(agentVersion))
	if err != nil {
		return out
	}
	out.UpdateRequired = cur.LessThan(minV)
	return out
}
