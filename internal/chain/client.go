// Package chain is the RPC adapter behind the deployer, the upgrade
// orchestrator and the message-root oracle. Every mutation is a signed
// transaction (EIP-1559 where the chain has a base fee) that is simulated
// first, so reverts surface with their reason before anything is broadcast.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/compose-network/shared-bridge/internal/bridgeerr"
	"github.com/compose-network/shared-bridge/internal/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/lmittmann/w3"
	w3eth "github.com/lmittmann/w3/module/eth"
)

// gasBufferPercent is added on top of every gas estimate.
const gasBufferPercent = 20

var (
	ownerFn         = w3.MustNewFunc("owner()", "address")
	l2TokenBeaconFn = w3.MustNewFunc("l2TokenBeacon()", "address")
)

type Client struct {
	rpc     *rpc.Client
	eth     *ethclient.Client
	w3      *w3.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	logger  *slog.Logger

	// Serializes nonce allocation.
	mu sync.Mutex
}

// Dial connects to url. A client without a key can only read.
func Dial(ctx context.Context, url, privateKeyHex string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	c := &Client{
		rpc:    rpcClient,
		eth:    ethclient.NewClient(rpcClient),
		w3:     w3.NewClient(rpcClient),
		logger: logger.Named("chain_client").With("url", url),
	}

	c.chainID, err = c.eth.ChainID(ctx)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	if privateKeyHex != "" {
		c.key, err = crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		c.from = crypto.PubkeyToAddress(c.key.PublicKey)
	}

	c.logger.With("chain_id", c.chainID).With("from", c.from.Hex()).Info("connected")
	return c, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

// Caller is the address transactions are signed with.
func (c *Client) Caller() common.Address {
	return c.from
}

func (c *Client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return c.eth.CodeAt(ctx, account, blockNumber)
}

// OwnerOf reads owner() of an Ownable contract.
func (c *Client) OwnerOf(ctx context.Context, target common.Address) (common.Address, error) {
	var owner common.Address
	if err := c.w3.CallCtx(ctx, w3eth.CallFunc(target, ownerFn).Returns(&owner)); err != nil {
		return common.Address{}, fmt.Errorf("failed to call owner() on %s: %w", target.Hex(), err)
	}
	return owner, nil
}

// L2TokenBeacon reads the token beacon of an L2 shared bridge.
func (c *Client) L2TokenBeacon(ctx context.Context, l2SharedBridge common.Address) (common.Address, error) {
	var beacon common.Address
	if err := c.w3.CallCtx(ctx, w3eth.CallFunc(l2SharedBridge, l2TokenBeaconFn).Returns(&beacon)); err != nil {
		return common.Address{}, fmt.Errorf("failed to call l2TokenBeacon() on %s: %w", l2SharedBridge.Hex(), err)
	}
	return beacon, nil
}

// DeployCreate2 sends salt ‖ initCode to a deterministic deployment factory.
func (c *Client) DeployCreate2(ctx context.Context, factory common.Address, salt common.Hash, initCode []byte) (*types.Receipt, error) {
	data := make([]byte, 0, common.HashLength+len(initCode))
	data = append(data, salt.Bytes()...)
	data = append(data, initCode...)
	return c.Call(ctx, factory, new(big.Int), data)
}

// Call simulates, signs and sends a transaction and waits for its receipt.
// A simulated revert is returned as *bridgeerr.RevertError.
func (c *Client) Call(ctx context.Context, target common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	if c.key == nil {
		return nil, errors.New("client has no signing key")
	}

	c.mu.Lock()
	tx, err := c.signed(ctx, target, value, data)
	if err == nil {
		err = c.eth.SendTransaction(ctx, tx)
	}
	c.mu.Unlock()
	if err != nil {
		return nil, revertFrom(err)
	}

	log := c.logger.With("tx_hash", tx.Hash().Hex()).With("to", target.Hex())
	log.Info("transaction sent")

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for transaction %s: %w", tx.Hash().Hex(), err)
	}
	log.With("status", receipt.Status).With("gas_used", receipt.GasUsed).Info("transaction mined")

	return receipt, nil
}

func (c *Client) signed(ctx context.Context, target common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	msg := ethereum.CallMsg{From: c.from, To: &target, Value: value, Data: data}

	gas, err := c.eth.EstimateGas(ctx, msg)
	if err != nil {
		return nil, err
	}
	gas += gas * gasBufferPercent / 100

	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending nonce: %w", err)
	}

	tx, err := unsignedTx(ctx, c.eth, c.chainID, nonce, gas, target, value, data)
	if err != nil {
		return nil, err
	}
	return types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
}

// feeSource prices transactions. *ethclient.Client implements it.
type feeSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// unsignedTx builds an EIP-1559 transaction, or a legacy one when the head
// carries no base fee.
func unsignedTx(ctx context.Context, fees feeSource, chainID *big.Int, nonce, gas uint64, target common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	head, err := fees.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}

	if head.BaseFee == nil {
		price, err := fees.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get gas price: %w", err)
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gas,
			To:       &target,
			Value:    value,
			Data:     data,
		}), nil
	}

	tip, err := fees.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas tip cap: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &target,
		Value:     value,
		Data:      data,
	}), nil
}

// revertFrom turns an RPC execution revert into a *bridgeerr.RevertError
// carrying the decoded Error(string) reason. Other errors pass through.
func revertFrom(err error) error {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if encoded, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(encoded); decodeErr == nil {
				reason, _ := abi.UnpackRevert(data)
				return &bridgeerr.RevertError{Reason: reason, Data: data}
			}
		}
	}
	if strings.Contains(err.Error(), "execution reverted") {
		return &bridgeerr.RevertError{Reason: strings.TrimPrefix(strings.TrimPrefix(err.Error(), "execution reverted"), ": ")}
	}
	return err
}
