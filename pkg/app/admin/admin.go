// Package admin is the operator's HTTP surface: client key management,
// budgets, pairing URLs and the service configuration, authorized by the
// admin_key config value in the X-Api-Key header.
package admin

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"nwcp.dev/pkg/crypto/p256k"
	"nwcp.dev/pkg/encoders/hex"
	"nwcp.dev/pkg/protocol/nwc"
	"nwcp.dev/pkg/store"
	"nwcp.dev/pkg/utils/chk"
	"nwcp.dev/pkg/utils/context"
	"nwcp.dev/pkg/utils/log"
)

// Operations carries the admin API handlers. Register with
// huma.AutoRegister.
type Operations struct {
	db          store.I
	providerPub string
	localRelay  string
	path        string
	now         func() int64
}

// New creates the admin operations serving under path (usually
// "/api/v1"). localRelay substitutes the internal relay sentinel in
// pairing URLs.
func New(db store.I, providerPub, localRelay, path string) *Operations {
	return &Operations{
		db:          db,
		providerPub: providerPub,
		localRelay:  localRelay,
		path:        path,
		now:         func() int64 { return time.Now().Unix() },
	}
}

func (x *Operations) authed(apiKey string) (err error) {
	admin, ok, err := x.db.GetConfig(store.ConfigAdminKey)
	if chk.E(err) {
		return huma.Error500InternalServerError("config unavailable")
	}
	if !ok || admin == "" ||
		subtle.ConstantTimeCompare([]byte(admin), []byte(apiKey)) != 1 {
		return huma.Error401Unauthorized("invalid api key")
	}
	return nil
}

// BudgetInfo is one budget with its current cycle usage.
type BudgetInfo struct {
	ID            uint64 `json:"id"`
	BudgetMsats   int64  `json:"budget_msats"`
	RefreshWindow int64  `json:"refresh_window"`
	UsedMsats     int64  `json:"used_msats"`
	CreatedAt     int64  `json:"created_at"`
}

// KeyInfo is one client key as the admin sees it.
type KeyInfo struct {
	Pubkey      string       `json:"pubkey"`
	WalletID    string       `json:"wallet_id"`
	Description string       `json:"description,omitempty"`
	Permissions []string     `json:"permissions"`
	Methods     []string     `json:"methods"`
	CreatedAt   int64        `json:"created_at"`
	LastUsed    int64        `json:"last_used,omitempty"`
	ExpiresAt   int64        `json:"expires_at,omitempty"`
	Budgets     []BudgetInfo `json:"budgets"`
}

func (x *Operations) keyInfo(k *store.ClientKey) (info *KeyInfo, err error) {
	info = &KeyInfo{
		Pubkey:      k.Pubkey,
		WalletID:    k.WalletID,
		Description: k.Description,
		Permissions: k.Permissions,
		Methods:     nwc.PermittedSupported(k.Permissions),
		CreatedAt:   k.CreatedAt,
		LastUsed:    k.LastUsed,
		ExpiresAt:   k.ExpiresAt,
		Budgets:     []BudgetInfo{},
	}
	budgets, err := x.db.GetBudgets(k.Pubkey)
	if chk.E(err) {
		return nil, huma.Error500InternalServerError("budget lookup failed")
	}
	now := x.now()
	for _, b := range budgets {
		from, until := b.CycleWindow(now)
		used, err := x.db.SpentInWindow(k.Pubkey, from, until)
		if chk.E(err) {
			return nil, huma.Error500InternalServerError("spend lookup failed")
		}
		info.Budgets = append(info.Budgets, BudgetInfo{
			ID:            b.ID,
			BudgetMsats:   b.BudgetMsats,
			RefreshWindow: b.RefreshWindow,
			UsedMsats:     used,
			CreatedAt:     b.CreatedAt,
		})
	}
	return
}

func validPubkey(pubkey string) bool {
	if len(pubkey) != 64 {
		return false
	}
	_, err := hex.Dec(pubkey)
	return err == nil
}

type ListKeysInput struct {
	ApiKey         string `header:"X-Api-Key"`
	WalletID       string `query:"wallet_id" required:"false" doc:"restrict to one wallet"`
	IncludeExpired bool   `query:"include_expired" required:"false"`
}

type ListKeysOutput struct {
	Body struct {
		Keys []*KeyInfo `json:"keys"`
	}
}

func (x *Operations) RegisterListKeys(api huma.API) {
	huma.Register(
		api, huma.Operation{
			OperationID: "ListKeys",
			Summary:     "ListKeys",
			Path:        x.path + "/nwc",
			Method:      http.MethodGet,
			Tags:        []string{"keys"},
			Description: "List paired client keys with their budgets and current cycle usage",
		}, func(ctx context.T, input *ListKeysInput) (
			output *ListKeysOutput, err error,
		) {
			if err = x.authed(input.ApiKey); err != nil {
				return
			}
			ks, err := x.db.ListClientKeys(input.WalletID, input.IncludeExpired)
			if chk.E(err) {
				return nil, huma.Error500InternalServerError("listing failed")
			}
			output = &ListKeysOutput{}
			output.Body.Keys = []*KeyInfo{}
			for _, k := range ks {
				info, err := x.keyInfo(k)
				if err != nil {
					return nil, err
				}
				output.Body.Keys = append(output.Body.Keys, info)
			}
			return
		},
	)
}

type GetKeyInput struct {
	ApiKey string `header:"X-Api-Key"`
	Pubkey string `path:"pubkey" doc:"client x-only pubkey, 64 hex characters"`
}

type GetKeyOutput struct {
	Body *KeyInfo
}

func (x *Operations) RegisterGetKey(api huma.API) {
	huma.Register(
		api, huma.Operation{
			OperationID: "GetKey",
			Summary:     "GetKey",
			Path:        x.path + "/nwc/{pubkey}",
			Method:      http.MethodGet,
			Tags:        []string{"keys"},
			Description: "Fetch one client key",
		}, func(ctx context.T, input *GetKeyInput) (
			output *GetKeyOutput, err error,
		) {
			if err = x.authed(input.ApiKey); err != nil {
				return
			}
			k, err := x.db.GetClientKey(input.Pubkey, true, false)
			if chk.E(err) {
				return nil, huma.Error500InternalServerError("lookup failed")
			}
			if k == nil {
				return nil, huma.Error404NotFound("no such client key")
			}
			info, err := x.keyInfo(k)
			if err != nil {
				return
			}
			return &GetKeyOutput{Body: info}, nil
		},
	)
}

// KeyBody is the registration request for a client key.
type KeyBody struct {
	WalletID    string   `json:"wallet_id" required:"false" doc:"host wallet the client spends from"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions" required:"false" doc:"permission tags: pay invoice lookup history balance info"`
	ExpiresAt   int64    `json:"expires_at,omitempty" doc:"unix seconds, 0 for never"`
	Budgets     []struct {
		BudgetMsats   int64 `json:"budget_msats"`
		RefreshWindow int64 `json:"refresh_window"`
	} `json:"budgets,omitempty"`
}

type PutKeyInput struct {
	ApiKey string `header:"X-Api-Key"`
	Pubkey string `path:"pubkey"`
	Body   *KeyBody
}

type PutKeyOutput struct {
	Body *KeyInfo
}

func (x *Operations) RegisterPutKey(api huma.API) {
	huma.Register(
		api, huma.Operation{
			OperationID: "PutKey",
			Summary:     "PutKey",
			Path:        x.path + "/nwc/{pubkey}",
			Method:      http.MethodPut,
			Tags:        []string{"keys"},
			Description: "Register or replace a client key, with optional budgets",
		}, func(ctx context.T, input *PutKeyInput) (
			output *PutKeyOutput, err error,
		) {
			if err = x.authed(input.ApiKey); err != nil {
				return
			}
			if !validPubkey(input.Pubkey) {
				return nil, huma.Error400BadRequest(
					"pubkey must be 64 hex characters")
			}
			if input.Body == nil || input.Body.WalletID == "" {
				return nil, huma.Error400BadRequest("wallet_id is required")
			}
			for _, tag := range input.Body.Permissions {
				if _, known := nwc.Permissions[tag]; !known {
					return nil, huma.Error400BadRequest(
						"unknown permission tag " + tag)
				}
			}
			for _, b := range input.Body.Budgets {
				if b.BudgetMsats < 0 {
					return nil, huma.Error400BadRequest(
						"budget_msats must not be negative")
				}
			}
			now := x.now()
			k := &store.ClientKey{
				Pubkey:      input.Pubkey,
				WalletID:    input.Body.WalletID,
				Description: input.Body.Description,
				Permissions: input.Body.Permissions,
				CreatedAt:   now,
				ExpiresAt:   input.Body.ExpiresAt,
			}
			if err = x.db.CreateClientKey(k); chk.E(err) {
				return nil, huma.Error500InternalServerError("store failed")
			}
			for _, b := range input.Body.Budgets {
				err = x.db.CreateBudget(&store.Budget{
					Pubkey:        input.Pubkey,
					BudgetMsats:   b.BudgetMsats,
					RefreshWindow: b.RefreshWindow,
					CreatedAt:     now,
				})
				if chk.E(err) {
					return nil, huma.Error500InternalServerError("store failed")
				}
			}
			log.I.F("admin registered client key %s on wallet %s",
				input.Pubkey, input.Body.WalletID)
			info, err := x.keyInfo(k)
			if err != nil {
				return
			}
			return &PutKeyOutput{Body: info}, nil
		},
	)
}

type DeleteKeyInput struct {
	ApiKey string `header:"X-Api-Key"`
	Pubkey string `path:"pubkey"`
}

type DeleteKeyOutput struct {
	Body struct {
		Deleted string `json:"deleted"`
	}
}

func (x *Operations) RegisterDeleteKey(api huma.API) {
	huma.Register(
		api, huma.Operation{
			OperationID: "DeleteKey",
			Summary:     "DeleteKey",
			Path:        x.path + "/nwc/{pubkey}",
			Method:      http.MethodDelete,
			Tags:        []string{"keys"},
			Description: "Delete a client key, cascading its budgets and spend records",
		}, func(ctx context.T, input *DeleteKeyInput) (
			output *DeleteKeyOutput, err error,
		) {
			if err = x.authed(input.ApiKey); err != nil {
				return
			}
			k, err := x.db.GetClientKey(input.Pubkey, true, false)
			if chk.E(err) {
				return nil, huma.Error500InternalServerError("lookup failed")
			}
			if k == nil {
				return nil, huma.Error404NotFound("no such client key")
			}
			if err = x.db.DeleteClientKey(input.Pubkey); chk.E(err) {
				return nil, huma.Error500InternalServerError("delete failed")
			}
			log.I.F("admin deleted client key %s", input.Pubkey)
			output = &DeleteKeyOutput{}
			output.Body.Deleted = input.Pubkey
			return
		},
	)
}

type PermissionsInput struct {
	ApiKey string `header:"X-Api-Key"`
}

type PermissionsOutput struct {
	Body struct {
		Order  []string            `json:"order"`
		Grants map[string][]string `json:"grants"`
	}
}

func (x *Operations) RegisterPermissions(api huma.API) {
	huma.Register(
		api, huma.Operation{
			OperationID: "Permissions",
			Summary:     "Permissions",
			Path:        x.path + "/permissions",
			Method:      http.MethodGet,
			Tags:        []string{"keys"},
			Description: "The permission tag table: which methods each tag grants",
		}, func(ctx context.T, input *PermissionsInput) (
			output *PermissionsOutput, err error,
		) {
			if err = x.authed(input.ApiKey); err != nil {
				return
			}
			output = &PermissionsOutput{}
			output.Body.Order = nwc.PermissionOrder
			output.Body.Grants = nwc.Permissions
			return
		},
	)
}

type PairingInput struct {
	ApiKey string `header:"X-Api-Key"`
	Secret string `path:"secret" doc:"client private key, 64 hex characters"`
}

type PairingOutput struct {
	Body struct {
		Pubkey string `json:"pubkey"`
		URI    string `json:"uri"`
	}
}

func (x *Operations) RegisterPairing(api huma.API) {
	huma.Register(
		api, huma.Operation{
			OperationID: "Pairing",
			Summary:     "Pairing",
			Path:        x.path + "/pairing/{secret}",
			Method:      http.MethodGet,
			Tags:        []string{"keys"},
			Description: "Build the pairing URL for a registered client secret",
		}, func(ctx context.T, input *PairingInput) (
			output *PairingOutput, err error,
		) {
			if err = x.authed(input.ApiKey); err != nil {
				return
			}
			secb, err := hex.Dec(input.Secret)
			if err != nil || len(secb) != 32 {
				return nil, huma.Error400BadRequest(
					"secret must be 64 hex characters")
			}
			sign := &p256k.Signer{}
			if err = sign.InitSec(secb); err != nil {
				return nil, huma.Error400BadRequest("invalid secret key")
			}
			pub := hex.Enc(sign.Pub())
			k, err := x.db.GetClientKey(pub, false, false)
			if chk.E(err) {
				return nil, huma.Error500InternalServerError("lookup failed")
			}
			if k == nil {
				return nil, huma.Error404NotFound(
					"no client key registered for this secret")
			}
			relay, _, err := x.db.GetConfig(store.ConfigRelay)
			if chk.E(err) {
				return nil, huma.Error500InternalServerError("config unavailable")
			}
			alias, _, err := x.db.GetConfig(store.ConfigRelayAlias)
			if chk.E(err) {
				return nil, huma.Error500InternalServerError("config unavailable")
			}
			output = &PairingOutput{}
			output.Body.Pubkey = pub
			output.Body.URI = nwc.BuildPairingURI(
				x.providerPub, relay, alias, x.localRelay, input.Secret,
			)
			return
		},
	)
}

type GetConfigInput struct {
	ApiKey string `header:"X-Api-Key"`
}

type GetConfigOutput struct {
	Body map[string]string
}

func (x *Operations) RegisterGetConfig(api huma.API) {
	huma.Register(
		api, huma.Operation{
			OperationID: "GetConfig",
			Summary:     "GetConfig",
			Path:        x.path + "/config",
			Method:      http.MethodGet,
			Tags:        []string{"config"},
			Description: "The service configuration, without the provider secret",
		}, func(ctx context.T, input *GetConfigInput) (
			output *GetConfigOutput, err error,
		) {
			if err = x.authed(input.ApiKey); err != nil {
				return
			}
			m, err := x.db.AllConfig()
			if chk.E(err) {
				return nil, huma.Error500InternalServerError("config unavailable")
			}
			delete(m, store.ConfigProviderKey)
			return &GetConfigOutput{Body: m}, nil
		},
	)
}

type ConfigKeyInput struct {
	ApiKey string `header:"X-Api-Key"`
	Key    string `path:"key"`
}

type ConfigKeyOutput struct {
	Body struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
}

func (x *Operations) RegisterConfigKey(api huma.API) {
	huma.Register(
		api, huma.Operation{
			OperationID: "ConfigKey",
			Summary:     "ConfigKey",
			Path:        x.path + "/config/{key}",
			Method:      http.MethodGet,
			Tags:        []string{"config"},
			Description: "One configuration value",
		}, func(ctx context.T, input *ConfigKeyInput) (
			output *ConfigKeyOutput, err error,
		) {
			if err = x.authed(input.ApiKey); err != nil {
				return
			}
			if input.Key == store.ConfigProviderKey {
				return nil, huma.Error403Forbidden(
					"the provider secret is not readable")
			}
			value, ok, err := x.db.GetConfig(input.Key)
			if chk.E(err) {
				return nil, huma.Error500InternalServerError("config unavailable")
			}
			if !ok {
				return nil, huma.Error404NotFound("no such config key")
			}
			output = &ConfigKeyOutput{}
			output.Body.Key = input.Key
			output.Body.Value = value
			return
		},
	)
}

type SetConfigInput struct {
	ApiKey string `header:"X-Api-Key"`
	Body   struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
}

type SetConfigOutput struct {
	Body struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
}

func (x *Operations) RegisterSetConfig(api huma.API) {
	huma.Register(
		api, huma.Operation{
			OperationID: "SetConfig",
			Summary:     "SetConfig",
			Path:        x.path + "/config",
			Method:      http.MethodPost,
			Tags:        []string{"config"},
			Description: "Set one configuration value",
		}, func(ctx context.T, input *SetConfigInput) (
			output *SetConfigOutput, err error,
		) {
			if err = x.authed(input.ApiKey); err != nil {
				return
			}
			if input.Body.Key == "" {
				return nil, huma.Error400BadRequest("key is required")
			}
			if input.Body.Key == store.ConfigProviderKey {
				return nil, huma.Error403Forbidden(
					"the provider secret cannot be replaced")
			}
			if err = x.db.SetConfig(
				input.Body.Key, input.Body.Value,
			); chk.E(err) {
				return nil, huma.Error500InternalServerError("store failed")
			}
			log.I.F("admin set config %s", input.Body.Key)
			output = &SetConfigOutput{}
			output.Body.Key = input.Body.Key
			output.Body.Value = input.Body.Value
			return
		},
	)
}
