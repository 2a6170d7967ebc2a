package directory

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/interbank/interbank_gateway/internal/ledger"
)

func TestLookupIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	d := Default()

	acct, ok, err := Lookup(ctx, d, "0x422B10CE2C930D45814992742E36383684946B14")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "VCB", acct.BankCode)
}

func TestBankOfTagsExternal(t *testing.T) {
	ctx := context.Background()
	d := Default()

	bank, err := BankOf(ctx, d, "0x0000000000000000000000000000000000000001")
	require.NoError(t, err)
	require.Equal(t, ledger.ExternalBank, bank)

	bank, err = BankOf(ctx, d, "0x9ce2b1c73dfe760d7413f5034709133d14bde60a")
	require.NoError(t, err)
	require.Equal(t, "BIDV", bank)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"address":"0xabc","bank_code":"vcb","display_name":"A","user_id":"a"}]`), 0o600))

	d, err := LoadFile(path)
	require.NoError(t, err)
	accounts, err := d.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "VCB", accounts[0].BankCode)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestHandlerHidesKeys(t *testing.T) {
	d := NewStatic([]Account{{Address: "0x01", BankCode: "VCB", PrivateKey: "secret"}})
	app := fiber.New()
	app.Get("/accounts", NewHandler(d).List)

	resp, err := app.Test(httptest.NewRequest("GET", "/accounts", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Accounts []Account `json:"accounts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Accounts, 1)
	require.Empty(t, body.Accounts[0].PrivateKey)

	all, err := d.ListAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, "secret", all[0].PrivateKey)
}
