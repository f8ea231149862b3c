package bridge

import (
	"fmt"

	"github.com/compose-network/shared-bridge/configs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var CMD = &cobra.Command{
	Use:   "ledger",
	Short: "Operate the local bridge ledger: chains, deposits and withdrawals",
}

var (
	registerChainCmd = &cobra.Command{
		Use:   "register-chain",
		Short: "Register every configured chain with its base token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, func(s *service) error { return s.registerChains(cmd.Context()) })
		},
	}

	mintCmd = &cobra.Command{
		Use:   "mint",
		Short: "Mint test tokens to an L1 account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, func(s *service) error {
				return s.mint(cmd.Context(), flagMintToken, flagAccount, flagAmount)
			})
		},
	}

	depositCmd = &cobra.Command{
		Use:   "deposit",
		Short: "Deposit the chain's base token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, func(s *service) error { return s.deposit(cmd.Context(), depositFlags()) })
		},
	}

	depositTwoBridgesCmd = &cobra.Command{
		Use:   "deposit-two-bridges",
		Short: "Deposit a non-base token through the second bridge, paying mint value in the base token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, func(s *service) error { return s.depositTwoBridges(cmd.Context(), depositFlags()) })
		},
	}

	depositLegacyCmd = &cobra.Command{
		Use:   "deposit-legacy",
		Short: "Deposit through the legacy erc20 bridge entry point",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, func(s *service) error {
				return s.depositLegacy(cmd.Context(), flagCaller, depositFlags())
			})
		},
	}

	recordRootCmd = &cobra.Command{
		Use:   "record-root",
		Short: "Record the L2→L1 logs root of a batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, func(s *service) error { return s.recordRoot(flagChainID, flagBatch, flagRoot) })
		},
	}

	finalizeCmd = &cobra.Command{
		Use:   "finalize",
		Short: "Finalize a proven withdrawal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, func(s *service) error {
				return s.finalize(cmd.Context(), finalizeArgs{
					chainID:  flagChainID,
					batch:    flagBatch,
					index:    flagIndex,
					txNumber: flagTxNumber,
					message:  flagMessage,
					proof:    flagProof,
				})
			})
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show a chain's record, custody balances and queued messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, func(s *service) error { return s.status(flagChainID) })
		},
	}

	decodeWithdrawalCmd = &cobra.Command{
		Use:   "decode-withdrawal",
		Short: "Decode a raw withdrawal message",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := &service{out: cmd.OutOrStdout()}
			return s.decodeWithdrawal(flagMessage)
		},
	}
)

var (
	flagChainID         uint64
	flagToken           string
	flagMintToken       string
	flagAccount         string
	flagAmount          string
	flagMintValue       string
	flagSender          string
	flagL2Receiver      string
	flagL2GasLimit      uint64
	flagGasPerPubdata   uint64
	flagRefundRecipient string
	flagCalldata        string
	flagCaller          string
	flagBatch           uint64
	flagIndex           uint64
	flagTxNumber        uint16
	flagRoot            string
	flagMessage         string
	flagProof           []string
)

func init() {
	mintCmd.Flags().StringVar(&flagMintToken, "token", "ETH", "Token symbol or address")
	mintCmd.Flags().StringVar(&flagAccount, "account", "", "Account to credit")
	mintCmd.Flags().StringVar(&flagAmount, "amount", "", "Amount in wei")

	for _, cmd := range []*cobra.Command{depositCmd, depositTwoBridgesCmd, depositLegacyCmd} {
		cmd.Flags().Uint64Var(&flagChainID, "chain-id", 0, "Target chain ID")
		cmd.Flags().StringVar(&flagSender, "sender", "", "L1 sender")
		cmd.Flags().StringVar(&flagAmount, "amount", "", "Amount in wei")
		cmd.Flags().StringVar(&flagL2Receiver, "l2-receiver", "", "L2 receiver")
		cmd.Flags().Uint64Var(&flagL2GasLimit, "l2-gas-limit", 1_000_000, "L2 gas limit of the queued transaction")
		cmd.Flags().Uint64Var(&flagGasPerPubdata, "gas-per-pubdata", 800, "L2 gas per pubdata byte limit")
		cmd.Flags().StringVar(&flagRefundRecipient, "refund-recipient", "", "L2 refund recipient (defaults to the sender)")
	}
	depositCmd.Flags().StringVar(&flagToken, "token", "", "Token symbol or address (defaults to the chain's base token)")
	depositTwoBridgesCmd.Flags().StringVar(&flagToken, "token", "", "Token symbol or address")
	depositTwoBridgesCmd.Flags().StringVar(&flagMintValue, "mint-value", "", "Base-token amount paying for L2 execution")
	depositTwoBridgesCmd.Flags().StringVar(&flagCalldata, "calldata", "", "ABI-encoded (token, amount, l2Receiver), overrides --token, --amount and --l2-receiver")
	depositLegacyCmd.Flags().StringVar(&flagToken, "token", "", "Token symbol or address")
	depositLegacyCmd.Flags().StringVar(&flagCaller, "caller", "", "Address calling into the shared bridge")

	recordRootCmd.Flags().Uint64Var(&flagChainID, "chain-id", 0, "Chain ID")
	recordRootCmd.Flags().Uint64Var(&flagBatch, "batch", 0, "Batch number")
	recordRootCmd.Flags().StringVar(&flagRoot, "root", "", "L2→L1 logs root hash")

	finalizeCmd.Flags().Uint64Var(&flagChainID, "chain-id", 0, "Chain ID")
	finalizeCmd.Flags().Uint64Var(&flagBatch, "batch", 0, "Batch number")
	finalizeCmd.Flags().Uint64Var(&flagIndex, "index", 0, "Message index in the batch")
	finalizeCmd.Flags().Uint16Var(&flagTxNumber, "tx-number", 0, "Transaction number in the batch")
	finalizeCmd.Flags().StringVar(&flagMessage, "message", "", "Raw withdrawal message")
	finalizeCmd.Flags().StringSliceVar(&flagProof, "proof", nil, "Merkle proof, comma separated 32-byte hashes")

	statusCmd.Flags().Uint64Var(&flagChainID, "chain-id", 0, "Chain ID")
	decodeWithdrawalCmd.Flags().StringVar(&flagMessage, "message", "", "Raw withdrawal message")

	CMD.AddCommand(registerChainCmd)
	CMD.AddCommand(mintCmd)
	CMD.AddCommand(depositCmd)
	CMD.AddCommand(depositTwoBridgesCmd)
	CMD.AddCommand(depositLegacyCmd)
	CMD.AddCommand(recordRootCmd)
	CMD.AddCommand(finalizeCmd)
	CMD.AddCommand(statusCmd)
	CMD.AddCommand(decodeWithdrawalCmd)
}

func depositFlags() depositArgs {
	return depositArgs{
		chainID:         flagChainID,
		sender:          flagSender,
		token:           flagToken,
		amount:          flagAmount,
		mintValue:       flagMintValue,
		l2Receiver:      flagL2Receiver,
		l2GasLimit:      flagL2GasLimit,
		gasPerPubdata:   flagGasPerPubdata,
		refundRecipient: flagRefundRecipient,
		calldata:        flagCalldata,
	}
}

func execute(cmd *cobra.Command, fn func(s *service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateLedger(); err != nil {
		return err
	}
	return withService(cmd.Context(), cfg, cmd.OutOrStdout(), fn)
}

func loadConfig() (configs.Config, error) {
	// Re-unmarshal to include flag overrides.
	if err := viper.Unmarshal(&configs.Values); err != nil {
		return configs.Config{}, fmt.Errorf("failed to unmarshal config with flag overrides: %w", err)
	}
	return configs.Values, nil
}
