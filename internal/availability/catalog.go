package availability

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Default model ids.
const (
	ModelPro       = "gemini-2.5-pro"
	ModelFlash     = "gemini-2.5-flash"
	ModelFlashLite = "gemini-2.5-flash-lite"

	// ModelAuto lets the router pick; it never names a concrete model.
	ModelAuto = "auto"
)

// Tier is the account tier a policy chain applies to.
type Tier string

const (
	TierFree     Tier = "free"
	TierStandard Tier = "standard"
	TierLegacy   Tier = "legacy"
)

var (
	policyPro = ModelPolicy{
		Model:                ModelPro,
		OnTerminalError:      ActionPrompt,
		OnTransientError:     ActionPrompt,
		OnTerminalErrorState: DirectiveMarkPermanentlyUnavailable,
		OnRetryFailureState:  DirectiveMarkUnavailableForTurn,
	}
	policyFlash = ModelPolicy{
		Model:                ModelFlash,
		OnTerminalError:      ActionPrompt,
		OnTransientError:     ActionPrompt,
		OnTerminalErrorState: DirectiveMarkPermanentlyUnavailable,
		OnRetryFailureState:  DirectiveMarkPermanentlyUnavailable,
	}
	policyFlashLite = ModelPolicy{
		Model:                ModelFlashLite,
		OnTerminalError:      ActionPrompt,
		OnTransientError:     ActionPrompt,
		OnTerminalErrorState: DirectiveMarkPermanentlyUnavailable,
		OnRetryFailureState:  DirectiveMarkPermanentlyUnavailable,
		IsLastResort:         true,
	}

	paidChain = Chain{policyPro, policyFlash, policyFlashLite}
	freeChain = Chain{policyPro, policyFlash}
)

// Catalog holds one policy chain per tier. Lookups return copies.
type Catalog struct {
	chains map[Tier]Chain
}

// DefaultCatalog returns the built-in chains: free tier gets pro then flash,
// paid tiers add flash-lite as the last resort.
func DefaultCatalog() *Catalog {
	return &Catalog{
		chains: map[Tier]Chain{
			TierFree:     freeChain.Clone(),
			TierStandard: paidChain.Clone(),
			TierLegacy:   paidChain.Clone(),
		},
	}
}

// ChainFor returns the chain for tier. Unknown tiers get the paid chain.
func (c *Catalog) ChainFor(tier Tier) Chain {
	if chain, ok := c.chains[tier]; ok {
		return chain.Clone()
	}
	return paidChain.Clone()
}

// PolicyFor returns the policy for model within tier's chain, or the default
// scaffold when the chain does not list it.
func (c *Catalog) PolicyFor(tier Tier, model string) ModelPolicy {
	if p, ok := c.ChainFor(tier).Find(model); ok {
		return p
	}
	return DefaultPolicy(model)
}

type catalogFile struct {
	Tiers map[Tier]Chain `yaml:"tiers"`
}

// ParseCatalog reads a YAML catalog. Tiers missing from the file keep their
// built-in chains.
//
//	tiers:
//	  free:
//	    - model: gemini-2.5-flash
//	      on_terminal_error: silent
//	      is_last_resort: true
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse policy catalog: %w", err)
	}

	cat := DefaultCatalog()
	for tier, chain := range f.Tiers {
		if err := validateChain(chain); err != nil {
			return nil, fmt.Errorf("tier %q: %w", tier, err)
		}
		cat.chains[tier] = fillChainDefaults(chain)
	}
	return cat, nil
}

var errEmptyChain = errors.New("policy chain is empty")

func validateChain(chain Chain) error {
	if len(chain) == 0 {
		return errEmptyChain
	}
	seen := make(map[string]bool, len(chain))
	lastResorts := 0
	for i, p := range chain {
		if p.Model == "" {
			return fmt.Errorf("policy %d: model is required", i)
		}
		if seen[p.Model] {
			return fmt.Errorf("policy %d: duplicate model %q", i, p.Model)
		}
		seen[p.Model] = true
		switch p.OnTerminalError {
		case "", ActionSilent, ActionPrompt:
		default:
			return fmt.Errorf("policy %q: invalid on_terminal_error %q", p.Model, p.OnTerminalError)
		}
		switch p.OnTransientError {
		case "", ActionSilent, ActionPrompt:
		default:
			return fmt.Errorf("policy %q: invalid on_transient_error %q", p.Model, p.OnTransientError)
		}
		for _, d := range []Directive{p.OnTerminalErrorState, p.OnRetryFailureState} {
			switch d {
			case "", DirectiveMarkPermanentlyUnavailable, DirectiveMarkUnavailableForTurn:
			default:
				return fmt.Errorf("policy %q: invalid directive %q", p.Model, d)
			}
		}
		if p.IsLastResort {
			lastResorts++
		}
	}
	if lastResorts > 1 {
		return fmt.Errorf("at most one last-resort policy allowed, got %d", lastResorts)
	}
	return nil
}

func fillChainDefaults(chain Chain) Chain {
	out := chain.Clone()
	for i := range out {
		def := DefaultPolicy(out[i].Model)
		if out[i].OnTerminalError == "" {
			out[i].OnTerminalError = def.OnTerminalError
		}
		if out[i].OnTransientError == "" {
			out[i].OnTransientError = def.OnTransientError
		}
		if out[i].OnTerminalErrorState == "" {
			out[i].OnTerminalErrorState = def.OnTerminalErrorState
		}
		if out[i].OnRetryFailureState == "" {
			out[i].OnRetryFailureState = def.OnRetryFailureState
		}
	}
	return out
}
