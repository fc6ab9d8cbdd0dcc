package mfa

// Step is a state of the MFA setup or disable dialog.
type Step string

const (
	StepSetup    Step = "setup"
	StepVerify   Step = "verify"
	StepComplete Step = "complete"
	StepDisable  Step = "disable"
	StepPassword Step = "password"
	StepDisabled Step = "disabled"
)

var flowTransitions = map[Step][]Step{
	StepSetup:    {StepVerify},
	StepVerify:   {StepComplete},
	StepDisable:  {StepPassword},
	StepPassword: {StepDisable, StepDisabled},
}

// Flow tracks the dialog state for enabling (setup, verify, complete) or
// disabling (disable, password, disabled) MFA. It is not safe for concurrent use.
type Flow struct {
	step Step
}

// NewFlow opens the dialog. An enabled principal starts in [StepDisable], anyone
// else in [StepSetup].
func NewFlow(status Status) *Flow {
	if status.Enabled {
		return &Flow{step: StepDisable}
	}
	return &Flow{step: StepSetup}
}

// Step returns the current state.
func (f *Flow) Step() Step {
	return f.step
}

// Terminal reports whether the dialog reached complete or disabled.
func (f *Flow) Terminal() bool {
	return f.step == StepComplete || f.step == StepDisabled
}

func (f *Flow) advance(to Step) error {
	for _, next := range flowTransitions[f.step] {
		if next == to {
			f.step = to
			return nil
		}
	}
	return ErrInvalidTransition
}

// Enrolled moves setup to verify once a factor has been enrolled.
func (f *Flow) Enrolled() error { return f.advance(StepVerify) }

// Verified moves verify to complete once the code was accepted.
func (f *Flow) Verified() error { return f.advance(StepComplete) }

// RequestPassword moves disable to the password prompt.
func (f *Flow) RequestPassword() error { return f.advance(StepPassword) }

// Cancel returns from the password prompt to disable.
func (f *Flow) Cancel() error {
	if f.step != StepPassword {
		return ErrInvalidTransition
	}
	return f.advance(StepDisable)
}

// Confirmed moves the password prompt to disabled once Disable succeeded.
func (f *Flow) Confirmed() error {
	if f.step != StepPassword {
		return ErrInvalidTransition
	}
	return f.advance(StepDisabled)
}
