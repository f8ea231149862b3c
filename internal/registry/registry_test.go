package registry

import (
	"testing"

	"github.com/compose-network/shared-bridge/internal/bridgeerr"
	fsjson "github.com/compose-network/shared-bridge/internal/infra/filesystem/json"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	proxyAdmin   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	sharedBridge = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	dai          = common.HexToAddress("0x00000000000000000000000000000000000000d1")
)

func TestResolve(t *testing.T) {
	r := New(map[ContractName]common.Address{
		ContractNameTransparentProxyAdmin: proxyAdmin,
		ContractNameWETH:                  {},
	}, nil)

	addr, err := r.Resolve(ContractNameTransparentProxyAdmin)
	require.NoError(t, err)
	assert.Equal(t, proxyAdmin, addr)

	_, err = r.Resolve(ContractNameSharedBridgeProxy)
	require.ErrorIs(t, err, bridgeerr.ErrUnknownContract)

	_, err = r.Resolve(ContractNameWETH)
	require.ErrorIs(t, err, bridgeerr.ErrZeroAddress)
}

func TestRequireReportsEveryMissingName(t *testing.T) {
	r := New(map[ContractName]common.Address{ContractNameTransparentProxyAdmin: proxyAdmin}, nil)

	require.NoError(t, r.Require(ContractNameTransparentProxyAdmin))

	err := r.Require(ContractNameTransparentProxyAdmin, ContractNameSharedBridgeProxy, ContractNameBridgehubProxy)
	require.ErrorIs(t, err, bridgeerr.ErrUnknownContract)
	assert.ErrorContains(t, err, "SharedBridgeProxy")
	assert.ErrorContains(t, err, "BridgehubProxy")
}

func TestTokenSymbolsAreCaseInsensitive(t *testing.T) {
	r := New(nil, map[string]common.Address{"dai": dai})

	addr, err := r.Token("DAI")
	require.NoError(t, err)
	assert.Equal(t, dai, addr)

	_, err = r.Token("USDC")
	require.ErrorIs(t, err, bridgeerr.ErrUnknownContract)
}

func TestFromHexRejectsMalformedAddresses(t *testing.T) {
	_, err := FromHex(map[string]string{"SharedBridgeProxy": "0x1234"}, nil)
	require.ErrorIs(t, err, bridgeerr.ErrZeroAddress)

	r, err := FromHex(map[string]string{"SharedBridgeProxy": sharedBridge.Hex()}, map[string]string{"DAI": dai.Hex()})
	require.NoError(t, err)
	assert.Equal(t, []ContractName{ContractNameSharedBridgeProxy}, r.Names())
}

func TestWriteAndLoad(t *testing.T) {
	r := New(map[ContractName]common.Address{ContractNameSharedBridgeProxy: sharedBridge}, map[string]common.Address{"DAI": dai})
	r.Set(ContractNameSharedBridgeImplementation, proxyAdmin)

	path, err := r.Write(fsjson.NewWriter(), t.TempDir())
	require.NoError(t, err)

	loaded, err := Load(fsjson.NewReader(), path)
	require.NoError(t, err)
	assert.Equal(t, r.Snapshot(), loaded.Snapshot())

	addr, err := loaded.Resolve(ContractNameSharedBridgeImplementation)
	require.NoError(t, err)
	assert.Equal(t, proxyAdmin, addr)
}
