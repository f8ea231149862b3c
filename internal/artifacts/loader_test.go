package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	fsjson "github.com/compose-network/shared-bridge/internal/infra/filesystem/json"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dummyBridgeArtifact = `{
  "contractName": "DummyL1ERC20Bridge",
  "abi": [
    {"type": "constructor", "inputs": [{"name": "_l1SharedBridge", "type": "address"}], "stateMutability": "nonpayable"},
    {"type": "function", "name": "initialize", "inputs": [
      {"name": "_l2SharedBridge", "type": "address"},
      {"name": "_l2TokenBeacon", "type": "address"},
      {"name": "_l2TokenProxyBytecodeHash", "type": "bytes32"}
    ], "outputs": [], "stateMutability": "nonpayable"}
  ],
  "bytecode": "0x6080604052",
  "deployedBytecode": "0x60806040"
}`

func writeArtifact(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name+".json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeArtifact(t, t.TempDir(), NameDummyERC20Bridge, dummyBridgeArtifact)

	artifact, err := Load(fsjson.NewReader(), path)
	require.NoError(t, err)
	assert.Equal(t, NameDummyERC20Bridge, artifact.Name)
	assert.Equal(t, []byte{0x60, 0x80, 0x60, 0x40, 0x52}, artifact.Bytecode)
	assert.Equal(t, []byte{0x60, 0x80, 0x60, 0x40}, artifact.DeployedBytecode)
	assert.Contains(t, artifact.ABI.Methods, "initialize")

	contract := artifact.Contract()
	assert.Equal(t, artifact.Bytecode, contract.Bytecode)
	assert.Equal(t, artifact.DeployedBytecode, contract.DeployedBytecode)
}

func TestPackConstructor(t *testing.T) {
	path := writeArtifact(t, t.TempDir(), NameDummyERC20Bridge, dummyBridgeArtifact)
	artifact, err := Load(fsjson.NewReader(), path)
	require.NoError(t, err)

	sharedBridge := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	packed, err := artifact.PackConstructor(sharedBridge)
	require.NoError(t, err)
	assert.Equal(t, common.LeftPadBytes(sharedBridge.Bytes(), 32), packed)

	_, err = artifact.PackConstructor()
	require.Error(t, err)
}

func TestLoadDirFallsBackToFileName(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, NameBeaconProxy, `{"bytecode": "0000000000000000000000000000000000000000000000000000000000000000"}`)

	loaded, err := LoadDir(fsjson.NewReader(), dir, NameBeaconProxy)
	require.NoError(t, err)
	assert.Equal(t, NameBeaconProxy, loaded[NameBeaconProxy].Name)
	assert.Len(t, loaded[NameBeaconProxy].Bytecode, 32)

	_, err = LoadDir(fsjson.NewReader(), dir, NameSharedBridge)
	require.Error(t, err)
}

func TestLoadRejectsEmptyBytecode(t *testing.T) {
	path := writeArtifact(t, t.TempDir(), "Interface", `{"abi": [], "bytecode": "0x"}`)

	_, err := Load(fsjson.NewReader(), path)
	require.ErrorContains(t, err, "no bytecode")
}
