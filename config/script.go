package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Script actions understood by the replay tool.
const (
	StepSupply    = "supply"
	StepRedeem    = "redeem"
	StepBorrow    = "borrow"
	StepRepay     = "repay"
	StepLiquidate = "liquidate"
	StepAccrue    = "accrue"
	StepSetPrice  = "set_price"
	StepAdvance   = "advance"
	StepTransfer  = "transfer"
	StepPause     = "pause"
	StepUnpause   = "unpause"
)

// Script is an ordered list of ledger operations.
type Script struct {
	Steps []Step `yaml:"steps"`
}

// Step is one scripted operation. Height, when non-zero, moves the ledger to
// that block before the step runs. Expect names the error kind the step must
// fail with; steps without it must succeed. Switch is a pause key such as
// "lending" or "lending.borrow".
type Step struct {
	Height     uint64 `yaml:"height"`
	Action     string `yaml:"action"`
	Account    string `yaml:"account"`
	Market     string `yaml:"market"`
	Amount     Amount `yaml:"amount"`
	Borrower   string `yaml:"borrower"`
	Collateral string `yaml:"collateral"`
	To         string `yaml:"to"`
	Blocks     uint64 `yaml:"blocks"`
	Switch     string `yaml:"switch"`
	Expect     string `yaml:"expect"`
}

// LoadScript reads a YAML replay script from path.
func LoadScript(path string) (*Script, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer file.Close()
	return DecodeScript(file)
}

// DecodeScript decodes and validates a YAML replay script.
func DecodeScript(r io.Reader) (*Script, error) {
	script := &Script{}
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(script); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	for i := range script.Steps {
		if err := script.Steps[i].validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return script, nil
}

func (s *Step) validate() error {
	s.Action = strings.ToLower(strings.TrimSpace(s.Action))
	s.Account = strings.TrimSpace(s.Account)
	s.Market = strings.TrimSpace(s.Market)
	s.Borrower = strings.TrimSpace(s.Borrower)
	s.Collateral = strings.TrimSpace(s.Collateral)
	s.To = strings.TrimSpace(s.To)
	s.Expect = strings.ToLower(strings.TrimSpace(s.Expect))
	s.Switch = strings.ToLower(strings.TrimSpace(s.Switch))

	switch s.Action {
	case StepSupply, StepRedeem, StepBorrow, StepRepay:
		if s.Account == "" || s.Market == "" {
			return fmt.Errorf("%s needs account and market", s.Action)
		}
	case StepLiquidate:
		if s.Account == "" || s.Market == "" || s.Borrower == "" || s.Collateral == "" {
			return fmt.Errorf("liquidate needs account, market, borrower and collateral")
		}
	case StepTransfer:
		if s.Account == "" || s.Market == "" || s.To == "" {
			return fmt.Errorf("transfer needs account, market and to")
		}
	case StepSetPrice:
		if s.Market == "" || !s.Amount.IsSet() {
			return fmt.Errorf("set_price needs market and amount")
		}
	case StepAccrue:
		if s.Market == "" {
			return fmt.Errorf("accrue needs market")
		}
	case StepAdvance:
		if s.Blocks == 0 {
			return fmt.Errorf("advance needs blocks")
		}
	case StepPause, StepUnpause:
		if s.Switch == "" {
			return fmt.Errorf("%s needs switch", s.Action)
		}
	case "":
		return fmt.Errorf("action required")
	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
	return nil
}
