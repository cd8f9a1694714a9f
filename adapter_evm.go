package qchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// maxListedNFTs caps how many tokens ListAssets enumerates.
const maxListedNFTs = 100

// ChainSwitcher is implemented by EVM wallets that can change their active
// chain on request.
type ChainSwitcher interface {
	SwitchChain(ctx context.Context, chainID *big.Int) error
}

// EVMAdapter implements ChainAdapter for account/contract-based chains.
type EVMAdapter struct {
	network          NetworkConfig
	chainID          *big.Int
	client           EthClient
	wallet           EVMWallet
	monitor          ReceiptMonitor
	gasBufferPercent uint64
}

// EVMAdapterOption configures an EVMAdapter.
type EVMAdapterOption func(*EVMAdapter)

// WithReceiptMonitor sets the monitor used by ConfirmTransaction.
func WithReceiptMonitor(m ReceiptMonitor) EVMAdapterOption {
	return func(a *EVMAdapter) {
		a.monitor = m
	}
}

// WithGasBufferPercent sets the percentage added on top of estimated gas.
func WithGasBufferPercent(percent uint64) EVMAdapterOption {
	return func(a *EVMAdapter) {
		a.gasBufferPercent = percent
	}
}

// NewEVMAdapter creates an adapter for an EVM network. wallet may be nil, in
// which case Connect fails with ErrConnection.
func NewEVMAdapter(network NetworkConfig, client EthClient, wallet EVMWallet, opts ...EVMAdapterOption) (*EVMAdapter, error) {
	if network.Family != FamilyEVM {
		return nil, fmt.Errorf("%w: network %s is not an evm network", ErrValidation, network.ChainKey)
	}
	if client == nil {
		return nil, fmt.Errorf("%w: nil eth client", ErrValidation)
	}

	a := &EVMAdapter{
		network:          network,
		chainID:          new(big.Int).SetUint64(network.ChainID),
		client:           client,
		wallet:           wallet,
		gasBufferPercent: DefaultGasBufferPercent,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.monitor == nil {
		a.monitor = DefaultReceiptMonitorFactory(network)
	}
	return a, nil
}

func (a *EVMAdapter) Family() ChainFamily {
	return FamilyEVM
}

func (a *EVMAdapter) Network() NetworkConfig {
	return a.network
}

func (a *EVMAdapter) Connect(ctx context.Context) (string, error) {
	if a.wallet == nil {
		return "", errors.Join(ErrConnection, fmt.Errorf("no evm wallet provider"))
	}

	accounts, err := a.wallet.RequestAccounts(ctx)
	if err != nil {
		return "", errors.Join(ErrConnection, err)
	}
	if len(accounts) == 0 {
		return "", errors.Join(ErrConnection, fmt.Errorf("wallet returned no accounts"))
	}

	if switcher, ok := a.wallet.(ChainSwitcher); ok {
		if err := a.CheckChain(ctx); errors.Is(err, ErrNetworkMismatch) {
			if switchErr := switcher.SwitchChain(ctx, a.chainID); switchErr != nil {
				logger.WithFields(logger.Fields{
					"chain_key": a.network.ChainKey,
					"error":     switchErr,
				}).Warn("Wallet refused to switch chain")
			}
		}
	}

	return accounts[0].Hex(), nil
}

// Reconnect returns the first already authorized account, if any.
func (a *EVMAdapter) Reconnect(ctx context.Context) (string, error) {
	if a.wallet == nil {
		return "", errors.Join(ErrConnection, fmt.Errorf("no evm wallet provider"))
	}
	accounts, err := a.wallet.Accounts(ctx)
	if err != nil {
		return "", errors.Join(ErrConnection, err)
	}
	if len(accounts) == 0 {
		return "", nil
	}
	return accounts[0].Hex(), nil
}

// Disconnect is local only. Extension wallets keep their authorization.
func (a *EVMAdapter) Disconnect(ctx context.Context) {
	logger.WithFields(logger.Fields{
		"chain_key": a.network.ChainKey,
	}).Debug("EVM session released")
}

// Subscribe forwards wallet notifications to handler.
func (a *EVMAdapter) Subscribe(handler WalletEventHandler) func() {
	if a.wallet == nil {
		return func() {}
	}
	return a.wallet.Subscribe(handler)
}

// CheckChain returns ErrNetworkMismatch when the wallet's active chain is not
// the adapter's network.
func (a *EVMAdapter) CheckChain(ctx context.Context) error {
	if a.wallet == nil {
		return errors.Join(ErrConnection, fmt.Errorf("no evm wallet provider"))
	}
	chainID, err := a.wallet.ChainID(ctx)
	if err != nil {
		return errors.Join(ErrConnection, err)
	}
	if chainID == nil || chainID.Cmp(a.chainID) != 0 {
		return fmt.Errorf("%w: wallet on chain %v, expected %v", ErrNetworkMismatch, chainID, a.chainID)
	}
	return nil
}

func (a *EVMAdapter) QueryBalance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: invalid address %q", ErrValidation, address)
	}
	balance, err := a.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, errors.Join(ErrQuery, err)
	}
	return balance, nil
}

func (a *EVMAdapter) BuildTransaction(kind TxKind, params TxParams) (PendingTransaction, error) {
	if !common.IsHexAddress(params.From) {
		return nil, fmt.Errorf("%w: invalid sender %q", ErrValidation, params.From)
	}
	from := common.HexToAddress(params.From)

	switch kind {
	case TxKindMint:
		if a.network.NFTContract == "" {
			return nil, fmt.Errorf("%w: no nft contract configured for %s", ErrValidation, a.network.ChainKey)
		}
		if params.Name == "" || params.QuantumHash == "" || params.TokenURI == "" {
			return nil, fmt.Errorf("%w: mint needs name, quantum hash and token uri", ErrValidation)
		}
		data, err := quantumNFTABI.Pack("mintNFT", params.Name, params.Description, params.TokenURI, params.QuantumHash)
		if err != nil {
			return nil, fmt.Errorf("%w: pack mintNFT: %v", ErrValidation, err)
		}
		value := params.Value
		if value == nil {
			value = a.network.MintPriceWei()
		}
		return &EVMCall{
			TxKind: kind,
			From:   from,
			To:     common.HexToAddress(a.network.NFTContract),
			Value:  new(big.Int).Set(value),
			Data:   data,
			Method: "mintNFT",
		}, nil

	case TxKindPayment:
		to, amount, err := evmTransferArgs(params)
		if err != nil {
			return nil, err
		}
		return &EVMCall{TxKind: kind, From: from, To: to, Value: amount}, nil

	case TxKindTokenTransfer:
		if a.network.TokenContract == "" {
			return nil, fmt.Errorf("%w: no token contract configured for %s", ErrValidation, a.network.ChainKey)
		}
		to, amount, err := evmTransferArgs(params)
		if err != nil {
			return nil, err
		}
		method := "transfer"
		if params.UsePQC {
			method = "transferWithPQC"
		}
		data, err := qTokenABI.Pack(method, to, amount)
		if err != nil {
			return nil, fmt.Errorf("%w: pack %s: %v", ErrValidation, method, err)
		}
		return &EVMCall{
			TxKind: kind,
			From:   from,
			To:     common.HexToAddress(a.network.TokenContract),
			Value:  new(big.Int),
			Data:   data,
			Method: method,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTxKind, kind)
	}
}

func evmTransferArgs(params TxParams) (common.Address, *big.Int, error) {
	if !common.IsHexAddress(params.To) {
		return common.Address{}, nil, fmt.Errorf("%w: invalid recipient %q", ErrValidation, params.To)
	}
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return common.Address{}, nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	return common.HexToAddress(params.To), new(big.Int).Set(params.Amount), nil
}

// SignTransaction fills nonce, fees and gas, then asks the wallet to sign.
// The wallet's chain is checked first so nothing is signed for the wrong network.
func (a *EVMAdapter) SignTransaction(ctx context.Context, ptx PendingTransaction) (*SignedTransaction, error) {
	call, ok := ptx.(*EVMCall)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not an evm transaction", ErrValidation, ptx)
	}
	if err := a.CheckChain(ctx); err != nil {
		return nil, err
	}

	nonce, err := a.client.PendingNonceAt(ctx, call.From)
	if err != nil {
		return nil, errors.Join(ErrQuery, fmt.Errorf("pending nonce: %w", err))
	}
	tipCap, err := a.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, errors.Join(ErrQuery, fmt.Errorf("suggest tip cap: %w", err))
	}
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Join(ErrQuery, fmt.Errorf("suggest gas price: %w", err))
	}
	feeCap := new(big.Int).Add(gasPrice, tipCap)

	to := call.To
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	estimated, err := a.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  call.From,
		To:    &to,
		Value: value,
		Data:  call.Data,
	})
	if err != nil {
		// the node already says the payload would be rejected
		return nil, NewSubmissionError("", err)
	}
	gasLimit := estimated + estimated*a.gasBufferPercent/100

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   a.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      call.Data,
	})

	signed, err := a.wallet.SignTx(ctx, call.From, tx, a.chainID)
	if err != nil {
		if errors.Is(err, ErrTransactionRejected) {
			return nil, err
		}
		return nil, errors.Join(ErrConnection, fmt.Errorf("sign: %w", err))
	}

	payload, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode signed tx: %w", err)
	}

	logger.WithFields(logger.Fields{
		"chain_key": a.network.ChainKey,
		"from":      call.From.Hex(),
		"method":    call.Method,
		"nonce":     nonce,
		"gas":       gasLimit,
		"tx_id":     signed.Hash().Hex(),
	}).Debug("EVM transaction signed")

	return &SignedTransaction{
		Pending: ptx,
		Payload: payload,
		TxID:    signed.Hash().Hex(),
		evmTx:   signed,
	}, nil
}

func (a *EVMAdapter) SubmitTransaction(ctx context.Context, stx *SignedTransaction) (string, error) {
	if stx == nil {
		return "", fmt.Errorf("%w: nil signed transaction", ErrValidation)
	}
	if err := stx.consume(); err != nil {
		return "", err
	}

	tx := stx.evmTx
	if tx == nil {
		tx = new(types.Transaction)
		if err := tx.UnmarshalBinary(stx.Payload); err != nil {
			return "", fmt.Errorf("%w: decode signed tx: %v", ErrValidation, err)
		}
	}

	if err := a.client.SendTransaction(ctx, tx); err != nil {
		// a JSON-RPC error is the node's answer, anything else is transport
		var rpcErr rpc.Error
		return "", submitFailure(tx.Hash().Hex(), err, errors.As(err, &rpcErr))
	}
	return tx.Hash().Hex(), nil
}

// ConfirmTransaction awaits a single receipt event. budget is not used.
func (a *EVMAdapter) ConfirmTransaction(ctx context.Context, txID string, budget int) (*ConfirmationResult, error) {
	event, ok := <-a.monitor.WaitReceipt(ctx, common.HexToHash(txID))
	if !ok {
		return nil, errors.Join(ErrConfirmationTimeout, fmt.Errorf("receipt monitor closed for %s", txID))
	}

	switch event.Status {
	case ReceiptMined:
		return &ConfirmationResult{
			TxID:        txID,
			ConfirmedAt: event.Receipt.BlockNumber.Uint64(),
			Receipt:     event.Receipt,
		}, nil
	case ReceiptReverted:
		return nil, &SubmissionError{
			TxID:   txID,
			Reason: ReasonReverted,
			Detail: fmt.Sprintf("reverted in block %v", event.Receipt.BlockNumber),
		}
	case ReceiptCancelled:
		return nil, errors.Join(ErrConfirmationTimeout, event.Err)
	default:
		return nil, errors.Join(ErrConfirmationTimeout, fmt.Errorf("no receipt for %s", txID))
	}
}

// ResolveAssetID reads the minted token id from the NFTMinted event, then
// from an ERC-721 mint Transfer, then falls back to totalMinted()-1.
func (a *EVMAdapter) ResolveAssetID(ctx context.Context, res *ConfirmationResult) (string, error) {
	if res == nil || res.Receipt == nil {
		return "", ErrAssetUnresolved
	}
	contract := common.HexToAddress(a.network.NFTContract)

	for _, l := range res.Receipt.Logs {
		if l.Address != contract || len(l.Topics) == 0 {
			continue
		}
		if l.Topics[0] == nftMintedTopic && len(l.Topics) >= 2 {
			return new(big.Int).SetBytes(l.Topics[1].Bytes()).String(), nil
		}
	}
	for _, l := range res.Receipt.Logs {
		if l.Address != contract || len(l.Topics) != 4 {
			continue
		}
		if l.Topics[0] == transferTopic && l.Topics[1] == (common.Hash{}) {
			return new(big.Int).SetBytes(l.Topics[3].Bytes()).String(), nil
		}
	}

	total, err := a.callUint(ctx, "totalMinted", res.Receipt.BlockNumber)
	if err != nil || total.Sign() == 0 {
		return "", errors.Join(ErrAssetUnresolved, err)
	}
	return total.Sub(total, big.NewInt(1)).String(), nil
}

// MintPrice reads mintPrice() from the contract, falling back to the
// configured price.
func (a *EVMAdapter) MintPrice(ctx context.Context) (*big.Int, error) {
	if a.network.NFTContract == "" {
		return a.network.MintPriceWei(), nil
	}
	price, err := a.callUint(ctx, "mintPrice", nil)
	if err != nil {
		logger.WithFields(logger.Fields{
			"chain_key": a.network.ChainKey,
			"error":     err,
		}).Warn("Failed to read mint price. Using configured price")
		return a.network.MintPriceWei(), nil
	}
	return price, nil
}

// VerifyQuantumHash calls verifyQuantumHash on the NFT contract.
func (a *EVMAdapter) VerifyQuantumHash(ctx context.Context, assetID, quantumHash string) (bool, error) {
	tokenID, ok := new(big.Int).SetString(assetID, 10)
	if !ok || tokenID.Sign() < 0 {
		return false, fmt.Errorf("%w: invalid token id %q", ErrValidation, assetID)
	}
	if a.network.NFTContract == "" {
		return false, fmt.Errorf("%w: no nft contract configured for %s", ErrValidation, a.network.ChainKey)
	}

	data, err := quantumNFTABI.Pack("verifyQuantumHash", tokenID, quantumHash)
	if err != nil {
		return false, fmt.Errorf("%w: pack verifyQuantumHash: %v", ErrValidation, err)
	}
	out, err := a.call(ctx, data, nil)
	if err != nil {
		return false, err
	}
	values, err := quantumNFTABI.Unpack("verifyQuantumHash", out)
	if err != nil || len(values) != 1 {
		return false, errors.Join(ErrQuery, fmt.Errorf("unpack verifyQuantumHash: %v", err))
	}
	valid, ok := values[0].(bool)
	if !ok {
		return false, errors.Join(ErrQuery, fmt.Errorf("unexpected verifyQuantumHash output %T", values[0]))
	}
	return valid, nil
}

// ListAssets enumerates the NFTs held by address through ERC-721 enumeration.
func (a *EVMAdapter) ListAssets(ctx context.Context, address string) ([]OwnedAsset, error) {
	if a.network.NFTContract == "" {
		return nil, nil
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: invalid address %q", ErrValidation, address)
	}
	owner := common.HexToAddress(address)

	count, err := a.callUint(ctx, "balanceOf", nil, owner)
	if err != nil {
		return nil, err
	}
	n := count.Int64()
	if !count.IsInt64() || n > maxListedNFTs {
		n = maxListedNFTs
	}

	assets := make([]OwnedAsset, 0, n)
	for i := int64(0); i < n; i++ {
		tokenID, err := a.callUint(ctx, "tokenOfOwnerByIndex", nil, owner, big.NewInt(i))
		if err != nil {
			return nil, err
		}
		assets = append(assets, OwnedAsset{AssetID: tokenID.String(), Amount: 1})
	}
	return assets, nil
}

func (a *EVMAdapter) call(ctx context.Context, data []byte, block *big.Int) ([]byte, error) {
	contract := common.HexToAddress(a.network.NFTContract)
	out, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, block)
	if err != nil {
		return nil, errors.Join(ErrQuery, err)
	}
	return out, nil
}

func (a *EVMAdapter) callUint(ctx context.Context, method string, block *big.Int, args ...interface{}) (*big.Int, error) {
	data, err := quantumNFTABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %v", ErrValidation, method, err)
	}
	out, err := a.call(ctx, data, block)
	if err != nil {
		return nil, err
	}
	values, err := quantumNFTABI.Unpack(method, out)
	if err != nil || len(values) != 1 {
		return nil, errors.Join(ErrQuery, fmt.Errorf("unpack %s: %v", method, err))
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.Join(ErrQuery, fmt.Errorf("unexpected %s output %T", method, values[0]))
	}
	return v, nil
}
