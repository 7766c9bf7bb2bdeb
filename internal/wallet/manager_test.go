package wallet

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestCreateIsIdempotentPerOwner(t *testing.T) {
	mgr := NewManager()

	first, err := mgr.Create("agent-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := mgr.Create("agent-1")
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if first.Address != second.Address {
		t.Fatalf("repeated create must return the same account: %s vs %s", first.Address, second.Address)
	}

	if _, err := mgr.Create(" "); err == nil {
		t.Fatalf("expected empty owner to be rejected")
	}
}

func TestSignProducesRecoverableSignature(t *testing.T) {
	mgr := NewManager()
	account, err := mgr.Create("agent-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	payload := []byte("swap 1 SOL for USDC")
	signature, err := mgr.Sign("agent-1", payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	pub, err := crypto.SigToPub(crypto.Keccak256(payload), signature)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered := crypto.PubkeyToAddress(*pub); recovered != account.Address {
		t.Fatalf("recovered address mismatch: %s vs %s", recovered, account.Address)
	}
}

func TestSignUnknownOwnerFails(t *testing.T) {
	mgr := NewManager()
	if _, err := mgr.Sign("ghost", []byte("x")); err == nil {
		t.Fatalf("expected missing account error")
	}
}

func TestImportOverwritesExistingAccount(t *testing.T) {
	mgr := NewManager()
	if _, err := mgr.Create("agent-1"); err != nil {
		t.Fatalf("create: %v", err)
	}

	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	imported, err := mgr.Import("agent-1", hex.EncodeToString(crypto.FromECDSA(priv)))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if imported.Address != crypto.PubkeyToAddress(priv.PublicKey) {
		t.Fatalf("imported address mismatch")
	}

	got, ok := mgr.Get("agent-1")
	if !ok || got.Address != imported.Address {
		t.Fatalf("import must overwrite the stored account")
	}
}

func TestListExposesNoPrivateKeys(t *testing.T) {
	mgr := NewManager()
	if _, err := mgr.Create("agent-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	accounts := mgr.List()
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts))
	}
	if accounts[0].priv != nil {
		t.Fatalf("listing must not leak private keys")
	}
	if bytes.Equal(accounts[0].Address.Bytes(), make([]byte, 20)) {
		t.Fatalf("listed account has zero address")
	}
}
