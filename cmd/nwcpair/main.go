// Command nwcpair registers a new client key over the admin API and
// prints the resulting pairing URL. The client secret is generated
// locally; the service only ever learns the pubkey.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/alexflint/go-arg"
	"lukechampine.com/frand"

	"nwcp.dev/pkg/crypto/p256k"
	"nwcp.dev/pkg/encoders/hex"
	"nwcp.dev/pkg/protocol/nwc"
	"nwcp.dev/pkg/utils/chk"
	"nwcp.dev/pkg/utils/log"
)

type RunArgs struct {
	Admin         string   `arg:"-a,--admin" default:"http://127.0.0.1:4036" help:"admin API base URL"`
	ApiKey        string   `arg:"-k,--apikey,required" help:"admin API key (printed by the daemon on first boot)"`
	Wallet        string   `arg:"-w,--wallet" default:"default" help:"host wallet the client spends from"`
	Description   string   `arg:"-d,--description" help:"free text shown in the admin listing"`
	Permissions   []string `arg:"-p,--permission,separate" help:"permission tag, repeatable; all tags when omitted"`
	ExpiresAt     int64    `arg:"--expires-at" help:"unix seconds after which the pairing stops working"`
	BudgetMsats   int64    `arg:"--budget" help:"spend cap in msats, 0 for none"`
	RefreshWindow int64    `arg:"--refresh" default:"3600" help:"budget cycle length in seconds"`
	Secret        string   `arg:"--secret" help:"reuse an existing client secret instead of generating one"`
}

func main() {
	var args RunArgs
	arg.MustParse(&args)
	if err := run(args); chk.T(err) {
		log.F.Ln(err)
		os.Exit(1)
	}
}

func run(args RunArgs) (err error) {
	secret := args.Secret
	if secret == "" {
		secret = hex.Enc(frand.Bytes(32))
	}
	secb, err := hex.Dec(secret)
	if err != nil {
		return fmt.Errorf("secret must be 64 hex characters: %w", err)
	}
	sign := &p256k.Signer{}
	if err = sign.InitSec(secb); chk.E(err) {
		return
	}
	pub := hex.Enc(sign.Pub())

	perms := args.Permissions
	if len(perms) == 0 {
		perms = nwc.PermissionOrder
	}
	body := map[string]any{
		"wallet_id":   args.Wallet,
		"description": args.Description,
		"permissions": perms,
		"expires_at":  args.ExpiresAt,
	}
	if args.BudgetMsats > 0 {
		body["budgets"] = []map[string]any{{
			"budget_msats":   args.BudgetMsats,
			"refresh_window": args.RefreshWindow,
		}}
	}
	if err = call(args, http.MethodPut, "/api/v1/nwc/"+pub, body, nil); err != nil {
		return
	}
	var pairing struct {
		URI string `json:"uri"`
	}
	err = call(args, http.MethodGet, "/api/v1/pairing/"+secret, nil, &pairing)
	if err != nil {
		return
	}

	fmt.Printf("pubkey:  %s\n", pub)
	fmt.Printf("secret:  %s\n", secret)
	fmt.Printf("pairing: %s\n", pairing.URI)
	return
}

func call(args RunArgs, method, path string, body, out any) (err error) {
	var rd io.Reader
	if body != nil {
		var b []byte
		if b, err = json.Marshal(body); chk.E(err) {
			return
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, args.Admin+path, rd)
	if chk.E(err) {
		return
	}
	req.Header.Set("X-Api-Key", args.ApiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if chk.E(err) {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, msg)
	}
	if out != nil {
		if err = json.NewDecoder(resp.Body).Decode(out); chk.E(err) {
			return
		}
	}
	return
}
