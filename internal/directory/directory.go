package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/interbank/interbank_gateway/internal/ledger"
)

// Account is an in-system account known to the gateway.
type Account struct {
	Address     string `json:"address"`
	BankCode    string `json:"bank_code"`
	DisplayName string `json:"display_name"`
	UserID      string `json:"user_id"`
	// PrivateKey signs transfers on the authoritative ledger. Empty entries can
	// only move funds through the simulated ledger.
	PrivateKey string `json:"private_key,omitempty"`
}

// Directory lists the accounts the gateway manages.
type Directory interface {
	ListAll(ctx context.Context) ([]Account, error)
}

// Static is an immutable directory held in memory.
type Static struct {
	accounts []Account
}

// NewStatic builds a directory from the given accounts.
func NewStatic(accounts []Account) *Static {
	cp := make([]Account, len(accounts))
	copy(cp, accounts)
	return &Static{accounts: cp}
}

// Default returns the demo directory: two users at each of three banks.
func Default() *Static {
	return NewStatic([]Account{
		{Address: "0x422b10ce2c930d45814992742e36383684946b14", BankCode: "VCB", DisplayName: "Vietcombank User 1", UserID: "vietcombank_user1"},
		{Address: "0xe8023765dbfad4f5b39e4d958e7f77c841c92070", BankCode: "VCB", DisplayName: "Vietcombank User 2", UserID: "vietcombank_user2"},
		{Address: "0xf9a6995806e630b216f65ba5577088c9032a8051", BankCode: "VTB", DisplayName: "VietinBank User 1", UserID: "vietinbank_user1"},
		{Address: "0xffe77b3af2e19001b08c1a5b2d6f81af8b3081fd", BankCode: "VTB", DisplayName: "VietinBank User 2", UserID: "vietinbank_user2"},
		{Address: "0x9ce2b1c73dfe760d7413f5034709133d14bde60a", BankCode: "BIDV", DisplayName: "BIDV User 1", UserID: "bidv_user1"},
		{Address: "0xfe4c08e2839b216d82635d9b4e5bb14d0b7cbd33", BankCode: "BIDV", DisplayName: "BIDV User 2", UserID: "bidv_user2"},
	})
}

// LoadFile reads a JSON array of accounts. An empty path yields the default directory.
func LoadFile(path string) (*Static, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	var accounts []Account
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("decode directory: %w", err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("directory %s is empty", path)
	}
	for i := range accounts {
		accounts[i].BankCode = strings.ToUpper(accounts[i].BankCode)
	}
	return NewStatic(accounts), nil
}

// ListAll returns a copy of every account.
func (s *Static) ListAll(_ context.Context) ([]Account, error) {
	cp := make([]Account, len(s.accounts))
	copy(cp, s.accounts)
	return cp, nil
}

// Lookup finds an account by address, comparing case-insensitively.
func Lookup(ctx context.Context, d Directory, address string) (Account, bool, error) {
	accounts, err := d.ListAll(ctx)
	if err != nil {
		return Account{}, false, err
	}
	want := ledger.NormalizeAddress(address)
	for _, a := range accounts {
		if ledger.NormalizeAddress(a.Address) == want {
			return a, true, nil
		}
	}
	return Account{}, false, nil
}

// BankOf resolves the bank code of an address, tagging unknown addresses as external.
func BankOf(ctx context.Context, d Directory, address string) (string, error) {
	acct, ok, err := Lookup(ctx, d, address)
	if err != nil {
		return "", err
	}
	if !ok {
		return ledger.ExternalBank, nil
	}
	return acct.BankCode, nil
}
