package httpapi

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/montabano1/RyanScraper/internal/config"
	"github.com/montabano1/RyanScraper/internal/secrets"
)

type SecretsHandler struct {
	CfgVal *atomic.Value // stores config.Config
}

type setDBPasswordReq struct {
	Password string `json:"password"`
}

// SetDBPassword stores the postgres password in the OS keychain under the
// account derived from the current config.
func (h SecretsHandler) SetDBPassword(w http.ResponseWriter, r *http.Request) {
	var req setDBPasswordReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}

	cfg := h.CfgVal.Load().(config.Config)
	account := secrets.KeyringAccount(cfg)
	if account == "" {
		WriteError(w, r, http.StatusBadRequest, "no_account", "set store.keyring_account or a URL postgres_dsn first")
		return
	}
	if err := secrets.SetDBPassword(account, req.Password); err != nil {
		WriteError(w, r, http.StatusBadRequest, "keyring_failed", "failed to store password: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
