package pipeline

import (
	"slices"

	"github.com/compose-network/shared-bridge/internal/deployer"
	"github.com/compose-network/shared-bridge/internal/ledger"
	"github.com/compose-network/shared-bridge/internal/registry"
	"github.com/compose-network/shared-bridge/internal/upgrade"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const (
	StatusCompleted = "completed"
	StatusVerifier  = "verifier-only"
	StatusHalted    = "halted"

	reportFileName  = "migration-report.yaml"
	journalFileName = "migration-journal.json"
)

type (
	// Report is written as migration-report.yaml after every run, including
	// runs that halt.
	Report struct {
		Migration Migration `yaml:"migration"`
	}

	Migration struct {
		Status      string                                   `yaml:"status"`
		Owner       common.Address                           `yaml:"owner"`
		Salt        common.Hash                              `yaml:"salt"`
		Deployments []deployer.Result                        `yaml:"deployments"`
		Calls       []upgrade.Outcome                        `yaml:"calls,omitempty"`
		Skipped     []string                                 `yaml:"skipped,omitempty"`
		Chains      []ledger.ChainRecord                     `yaml:"chains,omitempty"`
		Contracts   map[registry.ContractName]common.Address `yaml:"contracts"`
		Error       SingleQuotedString                       `yaml:"error,omitempty"`
	}

	// Journal records what a migration committed so a halted run can be
	// resumed without reissuing calls.
	Journal struct {
		Owner       common.Address    `json:"owner"`
		Salt        common.Hash       `json:"salt"`
		Deployments []deployer.Result `json:"deployments"`
		Committed   []string          `json:"committed"`
	}

	SingleQuotedString string
)

func (s SingleQuotedString) MarshalYAML() (any, error) {
	node := &yaml.Node{
		Kind:  yaml.ScalarNode,
		Style: yaml.SingleQuotedStyle,
		Value: string(s),
	}
	return node, nil
}

func (j *Journal) committed(name string) bool {
	return slices.Contains(j.Committed, name)
}

func (j *Journal) commit(name string) {
	if !j.committed(name) {
		j.Committed = append(j.Committed, name)
	}
}
