package fleet

import "fmt"

// Status: состояние одобрения устройства.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusApproved Status = "approved"
	StatusBlocked  Status = "blocked"
)

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusApproved, StatusBlocked:
		return true
	}
	return false
}

// blocked терминален: из него переходов нет.
var allowedTransitions = map[Status][]Status{
	StatusWaiting:  {StatusApproved, StatusBlocked},
	StatusApproved: {StatusBlocked},
	StatusBlocked:  nil,
}

// CheckTransition validates current -> target without touching any state.
func CheckTransition(current, target Status) error {
	if !target.Valid() {
		return fmt.Errorf("%w: unknown target status %q", ErrInvalidTransition, target)
	}
	for _, s := range allowedTransitions[current] {
		if s == target {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s not allowed", ErrInvalidTransition, current, target)
}

// ApprovalCandidate: то, что нужно знать об устройстве для одобрения.
type ApprovalCandidate struct {
	Status     Status
	DeviceType string
	SSHEnabled bool
}

// CheckApproval runs the transition check first, then the approval
// preconditions. deviceType is the type the operator assigns on approval.
func CheckApproval(c ApprovalCandidate, deviceType string) error {
	if err := CheckTransition(c.Status, StatusApproved); err != nil {
		return err
	}
	if !IsTemplateType(deviceType) {
		return fmt.Errorf("%w: device type must be a known template, got %q", ErrPreconditionNotMet, deviceType)
	}
	if !c.SSHEnabled {
		return fmt.Errorf("%w: device not reachable via SSH", ErrPreconditionNotMet)
	}
	return nil
}

// ApprovedFlag returns the approved flag that must accompany status s.
func ApprovedFlag(s Status) bool { return s == StatusApproved }
