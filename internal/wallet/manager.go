package wallet

import (
	"crypto/ecdsa"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "ContextHub-Chain/internal/errors"
)

// Account 表示一个由进程托管的签名账户。
// 私钥仅存在于进程内存中，随进程退出而销毁。
type Account struct {
	Owner     string         `json:"owner"`
	Address   common.Address `json:"address"`
	CreatedAt int64          `json:"created_at"`

	priv *ecdsa.PrivateKey
}

// Manager 是 owner 到签名账户的键值存储。
type Manager struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewManager 创建空的钱包管理器。
func NewManager() *Manager {
	return &Manager{accounts: make(map[string]*Account)}
}

// Create 为 owner 生成新的密钥对。已存在的账户直接返回，不重复生成。
func (m *Manager) Create(owner string) (*Account, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "钱包 owner 不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.accounts[owner]; ok {
		return existing, nil
	}

	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeWalletFailure, err, "生成密钥失败")
	}
	account := &Account{
		Owner:     owner,
		Address:   crypto.PubkeyToAddress(priv.PublicKey),
		CreatedAt: time.Now().Unix(),
		priv:      priv,
	}
	m.accounts[owner] = account
	return account, nil
}

// Import 以十六进制私钥为 owner 导入账户，覆盖已有账户。
func (m *Manager) Import(owner, hexKey string) (*Account, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "钱包 owner 不能为空")
	}
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析私钥失败")
	}

	account := &Account{
		Owner:     owner,
		Address:   crypto.PubkeyToAddress(priv.PublicKey),
		CreatedAt: time.Now().Unix(),
		priv:      priv,
	}
	m.mu.Lock()
	m.accounts[owner] = account
	m.mu.Unlock()
	return account, nil
}

// Get 返回 owner 的账户。
func (m *Manager) Get(owner string) (*Account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[owner]
	return account, ok
}

// List 返回全部账户的地址视图。
func (m *Manager) List() []Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Account, 0, len(m.accounts))
	for _, account := range m.accounts {
		out = append(out, Account{
			Owner:     account.Owner,
			Address:   account.Address,
			CreatedAt: account.CreatedAt,
		})
	}
	return out
}

// Sign 使用 owner 的私钥对 payload 的 Keccak256 摘要签名。
func (m *Manager) Sign(owner string, payload []byte) ([]byte, error) {
	m.mu.RLock()
	account, ok := m.accounts[owner]
	m.mu.RUnlock()
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "钱包账户不存在",
			xerrors.WithMetadata("owner", owner))
	}

	digest := crypto.Keccak256(payload)
	signature, err := crypto.Sign(digest, account.priv)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeWalletFailure, err, "签名失败")
	}
	return signature, nil
}
