package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"ContextHub-Chain/internal/web3"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
	}, nil
}

// Name 返回客户端对应的链名称。
func (c *Client) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// FetchChainSnapshot 返回链 ID 与最新区块高度。
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	if c == nil || c.eth == nil {
		return web3.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}
	chainID, err := c.eth.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// NativeBalance 查询地址的原生代币余额。
func (c *Client) NativeBalance(ctx context.Context, address string) (*big.Int, error) {
	if c == nil || c.eth == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New("余额查询需要提供地址")
	}
	balance, err := c.eth.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// ExecuteAction 执行只读链上操作，结果统一为十六进制字符串。
func (c *Client) ExecuteAction(ctx context.Context, action, address string) (string, error) {
	if c == nil || c.eth == nil {
		return "", errors.New("未初始化的以太坊客户端")
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return "", errors.New("链上操作不能为空")
	}

	switch action {
	case "eth_getBalance":
		balance, err := c.NativeBalance(ctx, address)
		if err != nil {
			return "", err
		}
		return toHexBig(balance), nil
	case "eth_getTransactionCount":
		addr := strings.TrimSpace(address)
		if addr == "" {
			return "", errors.New("eth_getTransactionCount 需要提供地址")
		}
		nonce, err := c.eth.PendingNonceAt(ctx, common.HexToAddress(addr))
		if err != nil {
			return "", fmt.Errorf("查询交易计数失败: %w", err)
		}
		return fmt.Sprintf("0x%x", nonce), nil
	case "eth_blockNumber":
		blockNumber, err := c.eth.BlockNumber(ctx)
		if err != nil {
			return "", fmt.Errorf("获取最新区块高度失败: %w", err)
		}
		return fmt.Sprintf("0x%x", blockNumber), nil
	default:
		return "", fmt.Errorf("暂不支持的链上操作: %s", action)
	}
}

// Close 释放底层 RPC 连接。
func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

func toHexBig(value *big.Int) string {
	if value == nil {
		return "0x0"
	}
	return "0x" + value.Text(16)
}

var _ web3.Client = (*Client)(nil)
