// adapters.go provides adapter implementations that wrap go-ethereum, jarvis
// and algod types to implement the minimal interfaces defined in deps.go.
package qchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	algotypes "github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	jarviscommon "github.com/tranvictor/jarvis/common"
	"github.com/tranvictor/jarvis/networks"
	"github.com/tranvictor/jarvis/util/monitor"
	"github.com/tranvictor/jarvis/util/reader"
)

// DefaultEthClientFactory dials the network's JSON-RPC endpoint.
func DefaultEthClientFactory(ctx context.Context, network NetworkConfig) (EthClient, error) {
	client, err := ethclient.DialContext(ctx, network.EndpointURL)
	if err != nil {
		return nil, errors.Join(ErrConnection, fmt.Errorf("dial %s: %w", network.ChainKey, err))
	}
	return client, nil
}

// txInfoWaiter is the part of the jarvis tx monitor used here.
type txInfoWaiter interface {
	MakeWaitChannelWithInterval(tx string, interval time.Duration) <-chan jarviscommon.TxInfo
}

// txMonitorAdapter wraps a jarvis tx monitor to implement ReceiptMonitor.
// The jarvis monitor itself has no cancellation, so the adapter adds the
// context and an overall timeout on top.
type txMonitorAdapter struct {
	monitor  txInfoWaiter
	interval time.Duration
	timeout  time.Duration
}

// NewTxMonitorAdapter creates a ReceiptMonitor from a jarvis monitor. It polls
// every interval and reports ReceiptLost after timeout.
func NewTxMonitorAdapter(m *monitor.TxMonitor, interval, timeout time.Duration) ReceiptMonitor {
	return newTxMonitorAdapter(m, interval, timeout)
}

func newTxMonitorAdapter(m txInfoWaiter, interval, timeout time.Duration) *txMonitorAdapter {
	if interval <= 0 {
		interval = DefaultReceiptInterval
	}
	if timeout <= 0 {
		timeout = DefaultReceiptTimeout
	}
	return &txMonitorAdapter{monitor: m, interval: interval, timeout: timeout}
}

func (m *txMonitorAdapter) WaitReceipt(ctx context.Context, hash common.Hash) <-chan ReceiptEvent {
	jarvisChan := m.monitor.MakeWaitChannelWithInterval(hash.Hex(), m.interval)
	// Buffered to avoid goroutine leak when the receiver stops listening
	resultChan := make(chan ReceiptEvent, 1)

	go func() {
		defer close(resultChan)
		deadline := time.NewTimer(m.timeout)
		defer deadline.Stop()

		select {
		case info := <-jarvisChan:
			resultChan <- receiptEventFromTxInfo(info)
		case <-ctx.Done():
			go drainTxInfo(jarvisChan)
			resultChan <- ReceiptEvent{Status: ReceiptCancelled, Err: ctx.Err()}
		case <-deadline.C:
			go drainTxInfo(jarvisChan)
			logger.WithFields(logger.Fields{
				"tx_hash": hash.Hex(),
				"timeout": m.timeout,
			}).Debug("No receipt before timeout")
			resultChan <- ReceiptEvent{Status: ReceiptLost}
		}
	}()

	return resultChan
}

// drainTxInfo lets the jarvis polling goroutine deliver its unbuffered result
// and exit once the transaction resolves.
func drainTxInfo(ch <-chan jarviscommon.TxInfo) {
	<-ch
}

func receiptEventFromTxInfo(info jarviscommon.TxInfo) ReceiptEvent {
	switch info.Status {
	case "done":
		return ReceiptEvent{Status: ReceiptMined, Receipt: info.Receipt}
	case "reverted":
		return ReceiptEvent{Status: ReceiptReverted, Receipt: info.Receipt}
	default:
		return ReceiptEvent{Status: ReceiptLost, Receipt: info.Receipt}
	}
}

// jarvisNetwork describes an EVM network to jarvis, with the configured
// endpoint as its only node.
func jarvisNetwork(network NetworkConfig) *networks.GenericEtherscanNetwork {
	return networks.NewGenericEtherscanNetwork(networks.GenericEtherscanNetworkConfig{
		Name:               network.ChainKey,
		ChainID:            network.ChainID,
		NativeTokenSymbol:  network.NativeCurrencySymbol,
		NativeTokenDecimal: uint64(network.NativeDecimals),
		DefaultNodes:       map[string]string{network.ChainKey: network.EndpointURL},
	})
}

// DefaultReceiptMonitorFactory builds a jarvis tx monitor over a reader for
// the network's endpoint. The reader dials lazily on the first poll.
func DefaultReceiptMonitorFactory(network NetworkConfig) ReceiptMonitor {
	jn := jarvisNetwork(network)
	r := reader.NewEthReaderGeneric(jn.GetDefaultNodes(), jn)
	return NewTxMonitorAdapter(monitor.NewGenericTxMonitor(r), DefaultReceiptInterval, DefaultReceiptTimeout)
}

// algodAdapter wraps algod.Client to implement our AlgodClient interface
type algodAdapter struct {
	client *algod.Client
}

func (a *algodAdapter) LastRound(ctx context.Context) (uint64, error) {
	status, err := a.client.Status().Do(ctx)
	if err != nil {
		return 0, err
	}
	return status.LastRound, nil
}

func (a *algodAdapter) WaitForRoundAfter(ctx context.Context, round uint64) (uint64, error) {
	status, err := a.client.StatusAfterBlock(round).Do(ctx)
	if err != nil {
		return 0, err
	}
	return status.LastRound, nil
}

func (a *algodAdapter) PendingTransaction(ctx context.Context, txID string) (models.PendingTransactionInfoResponse, error) {
	info, _, err := a.client.PendingTransactionInformation(txID).Do(ctx)
	return info, err
}

func (a *algodAdapter) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	return a.client.SendRawTransaction(raw).Do(ctx)
}

func (a *algodAdapter) SuggestedParams(ctx context.Context) (algotypes.SuggestedParams, error) {
	return a.client.SuggestedParams().Do(ctx)
}

func (a *algodAdapter) AccountInformation(ctx context.Context, address string) (models.Account, error) {
	return a.client.AccountInformation(address).Do(ctx)
}

// NewAlgodAdapter creates an AlgodClient from an algod client
func NewAlgodAdapter(c *algod.Client) AlgodClient {
	return &algodAdapter{client: c}
}

// DefaultAlgodClientFactory creates an algod client for the network endpoint.
func DefaultAlgodClientFactory(network NetworkConfig) (AlgodClient, error) {
	c, err := algod.MakeClient(network.EndpointURL, network.EndpointToken)
	if err != nil {
		return nil, errors.Join(ErrConnection, fmt.Errorf("algod client for %s: %w", network.ChainKey, err))
	}
	return NewAlgodAdapter(c), nil
}
