// Package scenario replays scripted market lifecycles against the settlement
// service and reports every deviation from the scripted expectations.
package scenario

import (
	"fmt"
	"os"
	"sort"

	"go.yaml.in/yaml/v4"
)

// Actions
const (
	ActionDeposit    = "deposit"
	ActionMint       = "mint"
	ActionRedeem     = "redeem"
	ActionTransfer   = "transfer"
	ActionAdvance    = "advance"
	ActionSetTime    = "set_time"
	ActionResolve    = "resolve"
	ActionClaim      = "claim"
	ActionBurnLosing = "burn_losing"
	ActionSweep      = "sweep"
)

// Asset names usable in steps and checks
const (
	AssetCollateral = "collateral"
	AssetYes        = "yes"
	AssetNo         = "no"
)

// AccountVault names the market's collateral vault in balance checks
const AccountVault = "vault"

// SignerOracle names the market oracle; any other signer name is an unrelated key
const SignerOracle = "oracle"

type Scenario struct {
	Name      string            `yaml:"name"`
	StartTime int64             `yaml:"start_time"`
	OracleKey string            `yaml:"oracle_key"`
	Accounts  map[string]uint64 `yaml:"accounts"` // name -> initial collateral

	Collateral struct {
		Decimals uint8 `yaml:"decimals"`
	} `yaml:"collateral"`
	Market struct {
		Controller     string `yaml:"controller"`
		ExpirationTime int64  `yaml:"expiration_time"`
	} `yaml:"market"`

	Steps  []Step  `yaml:"steps"`
	Checks []Check `yaml:"checks"`
	Final  *Final  `yaml:"final"`
}

// Step is one scripted operation. Expect holds the error code the step must
// fail with; empty means the step must succeed.
type Step struct {
	Action    string `yaml:"action"`
	Account   string `yaml:"account"`
	Recipient string `yaml:"recipient"`
	Yes       string `yaml:"yes"`
	No        string `yaml:"no"`
	From      string `yaml:"from"`
	To        string `yaml:"to"`
	Outcome   string `yaml:"outcome"`
	Winner    string `yaml:"winner"`
	Signer    string `yaml:"signer"`
	Amount    uint64 `yaml:"amount"`
	Seconds   int64  `yaml:"seconds"`
	Time      int64  `yaml:"time"`
	Expired   *int   `yaml:"expired"` // 1 if announced expired and still unresolved
	Expect    string `yaml:"expect"`
}

// Check asserts a ledger balance after all steps ran
type Check struct {
	Account string `yaml:"account"`
	Asset   string `yaml:"asset"`
	Balance uint64 `yaml:"balance"`
}

// Final asserts the stored market record after all steps ran
type Final struct {
	Status             string  `yaml:"status"`
	Winner             string  `yaml:"winner"`
	CollateralMinted   *uint64 `yaml:"collateral_minted"`
	CollateralReleased *uint64 `yaml:"collateral_released"`
}

// Load reads and validates a scenario file
func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't read file %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates a scenario document
func Parse(raw []byte) (*Scenario, error) {
	sc := &Scenario{}
	if err := yaml.Unmarshal(raw, sc); err != nil {
		return nil, fmt.Errorf("couldn't parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("couldn't validate scenario: %w", err)
	}
	return sc, nil
}

// AccountNames returns the funded account names in a stable order
func (sc *Scenario) AccountNames() []string {
	names := make([]string, 0, len(sc.Accounts))
	for name := range sc.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (sc *Scenario) Validate() error {
	if sc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(sc.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	for name := range sc.Accounts {
		if name == AccountVault {
			return fmt.Errorf("account name %q is reserved", name)
		}
	}
	if sc.Market.ExpirationTime == 0 {
		return fmt.Errorf("market.expiration_time is required")
	}

	for i, st := range sc.Steps {
		if err := sc.validateStep(st); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, st.Action, err)
		}
	}
	for i, c := range sc.Checks {
		if c.Account != AccountVault {
			if err := sc.account(c.Account); err != nil {
				return fmt.Errorf("check %d: %w", i+1, err)
			}
		}
		if err := asset(c.Asset, true); err != nil {
			return fmt.Errorf("check %d: %w", i+1, err)
		}
	}
	if sc.Final != nil && sc.Final.Winner != "" {
		if err := asset(sc.Final.Winner, false); err != nil {
			return fmt.Errorf("final: %w", err)
		}
	}
	return nil
}

func (sc *Scenario) validateStep(st Step) error {
	switch st.Action {
	case ActionDeposit, ActionRedeem, ActionClaim, ActionBurnLosing:
		if err := sc.account(st.Account); err != nil {
			return err
		}
		if st.Recipient != "" {
			if err := sc.account(st.Recipient); err != nil {
				return err
			}
		}
		if st.Action == ActionClaim || st.Action == ActionBurnLosing {
			return asset(st.Outcome, false)
		}
	case ActionMint:
		if err := sc.account(st.Yes); err != nil {
			return err
		}
		return sc.account(st.No)
	case ActionTransfer:
		if err := sc.account(st.From); err != nil {
			return err
		}
		if err := sc.account(st.To); err != nil {
			return err
		}
		return asset(st.Outcome, true)
	case ActionResolve:
		return asset(st.Winner, true)
	case ActionAdvance, ActionSetTime, ActionSweep:
	default:
		return fmt.Errorf("unknown action")
	}
	return nil
}

func (sc *Scenario) account(name string) error {
	if _, ok := sc.Accounts[name]; !ok {
		return fmt.Errorf("unknown account %q", name)
	}
	return nil
}

func asset(name string, allowCollateral bool) error {
	switch name {
	case AssetYes, AssetNo:
		return nil
	case AssetCollateral:
		if allowCollateral {
			return nil
		}
	}
	return fmt.Errorf("unknown asset %q", name)
}
