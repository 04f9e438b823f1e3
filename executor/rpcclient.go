package executor

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"
)

// RateLimitedClient wraps an EVMClient and throttles the RPC calls the
// Receipt Reconstructor and Transaction Status Resolver make against it.
// Subscription calls pass through unlimited since they are one-shot setup,
// not polled.
type RateLimitedClient struct {
	EVMClient
	limiter *rate.Limiter
}

// NewRateLimitedClient wraps client with a token-bucket limiter allowing
// burst requests up to burst and refilling at rps requests/second.
func NewRateLimitedClient(client EVMClient, rps float64, burst int) *RateLimitedClient {
	return &RateLimitedClient{
		EVMClient: client,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (c *RateLimitedClient) GetLogs(ctx context.Context, addresses []common.Address, topics [][]common.Hash, fromBlock, toBlock *big.Int) ([]types.Log, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.EVMClient.GetLogs(ctx, addresses, topics, fromBlock, toBlock)
}

func (c *RateLimitedClient) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.EVMClient.GetTransactionReceipt(ctx, txHash)
}

func (c *RateLimitedClient) GetTransaction(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}
	return c.EVMClient.GetTransaction(ctx, txHash)
}

func (c *RateLimitedClient) GetBundleStatus(ctx context.Context, entryPoint common.Address, txHash common.Hash) (*BundleStatus, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.EVMClient.GetBundleStatus(ctx, entryPoint, txHash)
}
