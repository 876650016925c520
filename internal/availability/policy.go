package availability

// Action is how a failure is surfaced: silently fall back, or ask the operator.
type Action string

const (
	ActionSilent Action = "silent"
	ActionPrompt Action = "prompt"
)

// Directive is the availability change applied to a model after a failure.
type Directive string

const (
	DirectiveMarkPermanentlyUnavailable Directive = "MARK_PERMANENTLY_UNAVAILABLE"
	DirectiveMarkUnavailableForTurn     Directive = "MARK_UNAVAILABLE_FOR_TURN"
)

// FailureKind classifies an upstream failure.
type FailureKind string

const (
	FailureTerminal  FailureKind = "terminal"
	FailureTransient FailureKind = "transient"
	FailureUnknown   FailureKind = "unknown"
)

// ModelPolicy describes how failures of one model are handled.
type ModelPolicy struct {
	Model                string    `yaml:"model"`
	OnTerminalError      Action    `yaml:"on_terminal_error"`
	OnTransientError     Action    `yaml:"on_transient_error"`
	OnTerminalErrorState Directive `yaml:"on_terminal_error_state"`
	OnRetryFailureState  Directive `yaml:"on_retry_failure_state"`
	IsLastResort         bool      `yaml:"is_last_resort"`
}

// ActionFor resolves the action for a failure kind. Unknown failures always prompt.
func (p *ModelPolicy) ActionFor(kind FailureKind) Action {
	if p == nil {
		return ActionPrompt
	}
	var a Action
	switch kind {
	case FailureTerminal:
		a = p.OnTerminalError
	case FailureTransient:
		a = p.OnTransientError
	}
	if a == "" {
		return ActionPrompt
	}
	return a
}

// Chain is an ordered list of policies, most preferred first.
type Chain []ModelPolicy

// Find returns the policy for model, if present.
func (c Chain) Find(model string) (ModelPolicy, bool) {
	for _, p := range c {
		if p.Model == model {
			return p, true
		}
	}
	return ModelPolicy{}, false
}

// Without returns the chain minus model, order preserved.
func (c Chain) Without(model string) Chain {
	out := make(Chain, 0, len(c))
	for _, p := range c {
		if p.Model != model {
			out = append(out, p)
		}
	}
	return out
}

// Models lists the model ids in chain order.
func (c Chain) Models() []string {
	out := make([]string, len(c))
	for i, p := range c {
		out[i] = p.Model
	}
	return out
}

// LastResort returns the chain's last-resort policy, if any.
func (c Chain) LastResort() (ModelPolicy, bool) {
	for _, p := range c {
		if p.IsLastResort {
			return p, true
		}
	}
	return ModelPolicy{}, false
}

// Clone returns an independent copy of the chain.
func (c Chain) Clone() Chain {
	out := make(Chain, len(c))
	copy(out, c)
	return out
}

// DefaultPolicy is the scaffold used for models absent from every chain.
func DefaultPolicy(model string) ModelPolicy {
	return ModelPolicy{
		Model:                model,
		OnTerminalError:      ActionPrompt,
		OnTransientError:     ActionPrompt,
		OnTerminalErrorState: DirectiveMarkPermanentlyUnavailable,
		OnRetryFailureState:  DirectiveMarkUnavailableForTurn,
	}
}
