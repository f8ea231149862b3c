// Package artifacts loads compiled contract artifacts in the hardhat JSON
// layout ({contractName, abi, bytecode, deployedBytecode}).
package artifacts

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/compose-network/shared-bridge/internal/deployer"
	"github.com/compose-network/shared-bridge/internal/infra/filesystem"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	NameSharedBridge     = "L1SharedBridge"
	NameDummyERC20Bridge = "DummyL1ERC20Bridge"
	NameBeaconProxy      = "BeaconProxy"
)

type (
	Artifact struct {
		Name             string
		ABI              abi.ABI
		Bytecode         []byte
		DeployedBytecode []byte
	}

	document struct {
		ContractName     string          `json:"contractName"`
		ABI              json.RawMessage `json:"abi"`
		Bytecode         string          `json:"bytecode"`
		DeployedBytecode string          `json:"deployedBytecode"`
	}
)

// Load reads the artifact at path.
func Load(reader filesystem.Reader, path string) (Artifact, error) {
	var doc document
	if err := reader.ReadJSON(path, &doc); err != nil {
		return Artifact{}, fmt.Errorf("failed to read artifact: %w", err)
	}
	return parse(doc, path)
}

// LoadDir reads <dir>/<name>.json for every name.
func LoadDir(reader filesystem.Reader, dir string, names ...string) (map[string]Artifact, error) {
	loaded := make(map[string]Artifact, len(names))
	for _, name := range names {
		artifact, err := Load(reader, filepath.Join(dir, name+".json"))
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", name, err)
		}
		loaded[name] = artifact
	}
	return loaded, nil
}

func parse(doc document, path string) (Artifact, error) {
	name := doc.ContractName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	artifact := Artifact{Name: name}

	if len(doc.ABI) > 0 {
		parsedABI, err := abi.JSON(strings.NewReader(string(doc.ABI)))
		if err != nil {
			return Artifact{}, fmt.Errorf("failed to parse ABI for %s: %w", name, err)
		}
		artifact.ABI = parsedABI
	}

	var err error
	if artifact.Bytecode, err = decodeHex(doc.Bytecode); err != nil {
		return Artifact{}, fmt.Errorf("failed to decode bytecode for %s: %w", name, err)
	}
	if len(artifact.Bytecode) == 0 {
		return Artifact{}, fmt.Errorf("artifact %s has no bytecode", name)
	}
	if artifact.DeployedBytecode, err = decodeHex(doc.DeployedBytecode); err != nil {
		return Artifact{}, fmt.Errorf("failed to decode deployed bytecode for %s: %w", name, err)
	}

	return artifact, nil
}

func decodeHex(s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

// Contract is the artifact as the deployer consumes it.
func (a Artifact) Contract() deployer.Contract {
	return deployer.Contract{
		Name:             a.Name,
		Bytecode:         a.Bytecode,
		DeployedBytecode: a.DeployedBytecode,
	}
}

// PackConstructor ABI-encodes constructor arguments.
func (a Artifact) PackConstructor(args ...any) ([]byte, error) {
	packed, err := a.ABI.Pack("", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack constructor of %s: %w", a.Name, err)
	}
	return packed, nil
}
