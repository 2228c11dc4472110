// Package eth backs the exchange core with contracts on an EVM chain.
package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// Options is decoded from backend.options when backend.type is eth.
type Options struct {
	RPC            string        `mapstructure:"rpc" json:"rpc"`
	ChainID        int64         `mapstructure:"chain_id" json:"chain_id"`
	PrivateKey     string        `mapstructure:"private_key" json:"-"`
	ReceiptTimeout time.Duration `mapstructure:"receipt_timeout" json:"receipt_timeout,omitempty"`
	MaxRetries     uint64        `mapstructure:"max_retries" json:"max_retries,omitempty"`
	RetryInterval  time.Duration `mapstructure:"retry_interval" json:"retry_interval,omitempty"`
}

func (o *Options) setDefaults() {
	if o.ReceiptTimeout == 0 {
		o.ReceiptTimeout = 2 * time.Minute
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryInterval == 0 {
		o.RetryInterval = 200 * time.Millisecond
	}
}

func (o Options) Validate() error {
	var errs []error
	if o.RPC == "" {
		errs = append(errs, errors.New("rpc is required"))
	}
	if o.ChainID <= 0 {
		errs = append(errs, errors.New("chain_id must be positive"))
	}
	if o.PrivateKey == "" {
		errs = append(errs, errors.New("private_key is required"))
	}
	return errors.Join(errs...)
}

// Backend is what the client needs from a node connection. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Client signs transactions with the exchange key. Its address is the custody
// account that holds every deposited token.
type Client struct {
	backend Backend
	auth    *bind.TransactOpts
	opts    Options
	logger  logrus.FieldLogger
	closer  func()

	// transactions are sent one at a time so pending nonces stay ordered
	txMu sync.Mutex
}

// Dial connects to opts.RPC.
func Dial(ctx context.Context, opts Options, logger logrus.FieldLogger) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid eth options: %w", err)
	}
	rpcClient, err := ethclient.DialContext(ctx, opts.RPC)
	if err != nil {
		return nil, fmt.Errorf("fail to dial %s, err: %w", opts.RPC, err)
	}
	c, err := NewClient(rpcClient, opts, logger)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	c.closer = rpcClient.Close
	return c, nil
}

func NewClient(backend Backend, opts Options, logger logrus.FieldLogger) (*Client, error) {
	if backend == nil {
		return nil, errors.New("backend is nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	opts.setDefaults()
	key, err := crypto.HexToECDSA(strings.TrimPrefix(opts.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(opts.ChainID))
	if err != nil {
		return nil, fmt.Errorf("fail to create transactor, err: %w", err)
	}
	return &Client{
		backend: backend,
		auth:    auth,
		opts:    opts,
		logger:  logger.WithField("component", "eth"),
	}, nil
}

func (c *Client) Address() common.Address {
	return c.auth.From
}

func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

func (c *Client) retry(ctx context.Context, op func() error) error {
	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = c.opts.RetryInterval
	strategy.MaxInterval = 10 * c.opts.RetryInterval
	strategy.MaxElapsedTime = 0
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(strategy, c.opts.MaxRetries), ctx))
}

// call runs a view method, retrying transport failures.
func (c *Client) call(ctx context.Context, contract abi.ABI, addr common.Address, method string, args ...interface{}) ([]interface{}, error) {
	bound := bind.NewBoundContract(addr, contract, c.backend, c.backend, c.backend)
	var out []interface{}
	attempt := 0
	err := c.retry(ctx, func() error {
		attempt++
		out = nil
		err := bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...)
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		c.logger.WithError(err).WithFields(logrus.Fields{
			"method":  method,
			"address": addr.Hex(),
			"attempt": attempt,
		}).Warn("contract call failed")
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", method, addr.Hex(), err)
	}
	return out, nil
}

// transact sends a transaction and waits for a successful receipt. Sends are
// not retried because a timed out send may still be mined.
func (c *Client) transact(ctx context.Context, contract abi.ABI, addr common.Address, method string, args ...interface{}) (*gtypes.Receipt, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	bound := bind.NewBoundContract(addr, contract, c.backend, c.backend, c.backend)
	opts := *c.auth
	opts.Context = ctx
	tx, err := bound.Transact(&opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("fail to send %s to %s, err: %w", method, addr.Hex(), err)
	}
	logger := c.logger.WithFields(logrus.Fields{
		"method": method,
		"to":     addr.Hex(),
		"tx":     tx.Hash().Hex(),
	})
	logger.Debug("transaction sent")

	waitCtx, cancel := context.WithTimeout(ctx, c.opts.ReceiptTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("fail to wait for %s, err: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != gtypes.ReceiptStatusSuccessful {
		logger.Error("transaction reverted")
		return receipt, fmt.Errorf("%s on %s reverted in %s", method, addr.Hex(), tx.Hash().Hex())
	}
	logger.WithField("block", receipt.BlockNumber).Info("transaction mined")
	return receipt, nil
}

func isPermanent(err error) bool {
	if errors.Is(err, bind.ErrNoCode) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "execution reverted") || strings.Contains(msg, "abi:")
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return uint256.NewInt(0), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative value %s", v)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("value %s overflows uint256", v)
	}
	return out, nil
}

func outputBig(out []interface{}, i int) (*uint256.Int, error) {
	if len(out) <= i {
		return nil, fmt.Errorf("missing output %d", i)
	}
	v, ok := out[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("output %d is %T, not *big.Int", i, out[i])
	}
	return fromBig(v)
}

func outputAddress(out []interface{}, i int) (common.Address, error) {
	if len(out) <= i {
		return common.Address{}, fmt.Errorf("missing output %d", i)
	}
	v, ok := out[i].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("output %d is %T, not an address", i, out[i])
	}
	return v, nil
}
