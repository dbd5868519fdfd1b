/*
Copyright 2024 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package web implements the pulse HTTP API: timelines, connections,
// profiles, filters and credentials, authenticated against the
// external identity service.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"

	"github.com/gravitational/pulse"
	"github.com/gravitational/pulse/lib/defaults"
	"github.com/gravitational/pulse/lib/httplib"
	"github.com/gravitational/pulse/lib/providers"
	"github.com/gravitational/pulse/lib/secret"
	"github.com/gravitational/pulse/lib/services"
	"github.com/gravitational/pulse/lib/store"
	"github.com/gravitational/pulse/lib/timeline"
)

// refreshAllShortcut is the account id path value that triggers a
// refresh of every account of the authenticated user.
const refreshAllShortcut = "refresh-all"

// Syncer triggers on-demand account syncs.
type Syncer interface {
	// RefreshOne enqueues a sync of one account
	RefreshOne(ctx context.Context, account services.Account) (string, error)
	// RefreshAll enqueues a sync of every active account of the user
	RefreshAll(ctx context.Context, userID string) (string, error)
	// RegenerateTimeline rebuilds the user's timeline snapshot
	RegenerateTimeline(ctx context.Context, userID string) error
}

// Config represents web handler configuration parameters
type Config struct {
	// Identity manages users, profiles and accounts
	Identity services.Identity
	// Limits manages per-account rate limit state
	Limits services.RateLimits
	// Store is the versioned snapshot store
	Store *store.Store
	// Assembler builds timeline views
	Assembler *timeline.Assembler
	// Syncer triggers on-demand syncs
	Syncer Syncer
	// Auth verifies request credentials
	Auth Authenticator
	// Key seals tokens and client secrets at rest
	Key secret.Key
	// AllowedOrigins are explicit CORS origins, on top of the
	// *.workers.dev and *.pages.dev wildcards
	AllowedOrigins []string
	// Clock overrides time in tests
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults
func (c *Config) CheckAndSetDefaults() error {
	if c.Identity == nil {
		return trace.BadParameter("missing parameter Identity")
	}
	if c.Limits == nil {
		return trace.BadParameter("missing parameter Limits")
	}
	if c.Store == nil {
		return trace.BadParameter("missing parameter Store")
	}
	if c.Assembler == nil {
		return trace.BadParameter("missing parameter Assembler")
	}
	if c.Syncer == nil {
		return trace.BadParameter("missing parameter Syncer")
	}
	if c.Auth == nil {
		return trace.BadParameter("missing parameter Auth")
	}
	if len(c.Key) == 0 {
		return trace.BadParameter("missing parameter Key")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Handler is the pulse HTTP API handler
type Handler struct {
	httprouter.Router
	cfg Config
	log *log.Entry
}

// NewHandler returns a new API handler with all routes bound
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	h := &Handler{
		cfg: cfg,
		log: log.WithFields(log.Fields{pulse.Component: pulse.ComponentWeb}),
	}

	h.GET("/health", httplib.MakeHandler(h.health))

	h.GET("/api/v1/me", h.WithAuth(h.getMe))

	h.GET("/api/v1/timeline/:user_id", h.WithAuth(h.getTimeline))
	h.GET("/api/v1/timeline/:user_id/raw/:platform", h.WithAuth(h.getRawSnapshot))

	h.GET("/api/v1/connections", h.WithAuth(h.listConnections))
	h.POST("/api/v1/connections", h.WithAuth(h.createConnection))
	h.PATCH("/api/v1/connections/:account_id", h.WithAuth(h.updateConnection))
	h.DELETE("/api/v1/connections/:account_id", h.WithAuth(h.deleteConnection))
	// the refresh-all shortcut shares the wildcard with single-account
	// triggers, see postConnection
	h.POST("/api/v1/connections/:account_id", h.WithAuth(h.postConnection))
	h.POST("/api/v1/connections/:account_id/refresh", h.WithAuth(h.refreshConnection))
	h.GET("/api/v1/connections/:account_id/settings", h.WithAuth(h.getConnectionSettings))
	h.PUT("/api/v1/connections/:account_id/settings", h.WithAuth(h.putConnectionSettings))
	h.GET("/api/v1/connections/:account_id/repos", h.WithAuth(h.getConnectionRepos))
	h.GET("/api/v1/connections/:account_id/subreddits", h.WithAuth(h.getConnectionSubreddits))

	h.GET("/api/v1/profiles", h.WithAuth(h.listProfiles))
	h.POST("/api/v1/profiles", h.WithAuth(h.createProfile))
	h.GET("/api/v1/profiles/:id", h.WithAuth(h.getProfile))
	h.PATCH("/api/v1/profiles/:id", h.WithAuth(h.updateProfile))
	h.DELETE("/api/v1/profiles/:id", h.WithAuth(h.deleteProfile))
	h.GET("/api/v1/profiles/:id/filters", h.WithAuth(h.listFilters))
	h.POST("/api/v1/profiles/:id/filters", h.WithAuth(h.createFilter))
	h.DELETE("/api/v1/profiles/:id/filters/:filter_id", h.WithAuth(h.deleteFilter))
	h.GET("/api/v1/profiles/:id/timeline", h.WithAuth(h.getProfileTimeline))

	h.GET("/api/v1/credentials/:platform", h.WithAuth(h.getCredential))
	h.POST("/api/v1/credentials/:platform", h.WithAuth(h.putCredential))
	h.DELETE("/api/v1/credentials/:platform", h.WithAuth(h.deleteCredential))

	return h, nil
}

// ServeHTTP answers CORS preflight and dispatches to the router.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && h.originAllowed(origin) {
		httplib.SetCORSHeaders(w, origin)
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	h.Router.ServeHTTP(w, r)
}

func (h *Handler) originAllowed(origin string) bool {
	for _, allowed := range h.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return strings.HasSuffix(host, ".workers.dev") || strings.HasSuffix(host, ".pages.dev")
}

// ContextHandler is an authenticated API handler
type ContextHandler func(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error)

// WithAuth ensures that the request carries a verified credential.
// Requests with no verifiable credential get a 401.
func (h *Handler) WithAuth(fn ContextHandler) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		session, err := h.cfg.Auth.Authenticate(r)
		if err != nil {
			h.log.WithError(err).Debugf("Unauthenticated request %v %v.", r.Method, r.URL.Path)
			roundtrip.ReplyJSON(w, http.StatusUnauthorized, httplib.ErrorResponse{
				Error:   "unauthorized",
				Message: trace.UserMessage(err),
			})
			return
		}
		httplib.MakeHandler(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
			return fn(w, r, p, session)
		})(w, r, p)
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	return map[string]interface{}{
		"status":    "ok",
		"version":   pulse.Version,
		"timestamp": h.cfg.Clock.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (h *Handler) getMe(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	user, err := h.cfg.Identity.GetUser(r.Context(), session.UserID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return user, nil
}

// snapshotResponse wraps a snapshot's meta and typed payload.
type snapshotResponse struct {
	Meta *store.Meta     `json:"meta"`
	Data json.RawMessage `json:"data"`
}

func (h *Handler) getTimeline(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	userID := p.ByName("user_id")
	if userID != session.UserID {
		return nil, trace.AccessDenied("access denied to timeline of user %q", userID)
	}
	view, meta, err := h.cfg.Assembler.GetUserTimeline(r.Context(), userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	query := r.URL.Query()
	view = timeline.Between(view, query.Get("from"), query.Get("to"))
	data, err := json.Marshal(view)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return snapshotResponse{Meta: meta, Data: data}, nil
}

func (h *Handler) getRawSnapshot(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	platform := p.ByName("platform")
	if !pulse.IsValidPlatform(platform) {
		return nil, trace.BadParameter("unsupported platform %q", platform)
	}
	if p.ByName("user_id") != session.UserID {
		return nil, trace.AccessDenied("access denied to snapshots of user %q", p.ByName("user_id"))
	}
	account, err := h.rawAccount(r.Context(), session, platform, r.URL.Query().Get("account_id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	snapshot, err := h.cfg.Store.GetLatest(r.Context(), store.RawID(platform, account.ID))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return snapshotResponse{Meta: &snapshot.Meta, Data: snapshot.Data}, nil
}

// rawAccount resolves the raw snapshot's account: the one named by
// account_id when given, the user's first account on the platform
// otherwise.
func (h *Handler) rawAccount(ctx context.Context, session *Session, platform, accountID string) (*services.Account, error) {
	if accountID != "" {
		account, err := h.accountForUser(ctx, session, accountID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if account.Platform != platform {
			return nil, trace.NotFound("account %q is not a %v account", accountID, platform)
		}
		return account, nil
	}
	accounts, err := h.userAccounts(ctx, session.UserID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, account := range accounts {
		if account.Platform == platform {
			return &account, nil
		}
	}
	return nil, trace.NotFound("no %v account connected", platform)
}

// connection is the external JSON shape of an account, with sealed
// token material stripped.
type connection struct {
	ID             string            `json:"id"`
	ProfileID      string            `json:"profile_id"`
	Platform       string            `json:"platform"`
	ExternalUserID string            `json:"external_user_id"`
	ExternalHandle string            `json:"external_handle,omitempty"`
	Active         bool              `json:"is_active"`
	TokenExpiry    *time.Time        `json:"token_expiry,omitempty"`
	LastFetchedAt  *time.Time        `json:"last_fetched_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	Settings       map[string]string `json:"settings,omitempty"`
}

func newConnection(account services.Account) connection {
	return connection{
		ID:             account.ID,
		ProfileID:      account.ProfileID,
		Platform:       account.Platform,
		ExternalUserID: account.ExternalUserID,
		ExternalHandle: account.ExternalHandle,
		Active:         account.Active,
		TokenExpiry:    account.TokenExpiry,
		LastFetchedAt:  account.LastFetchedAt,
		CreatedAt:      account.CreatedAt,
	}
}

func (h *Handler) listConnections(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	query := r.URL.Query()
	profileID := query.Get("profile_id")
	if profileID == "" {
		return nil, trace.BadParameter("missing query parameter profile_id")
	}
	if _, err := h.profileForUser(r.Context(), session, profileID); err != nil {
		return nil, trace.Wrap(err)
	}
	accounts, err := h.cfg.Identity.GetAccounts(r.Context(), profileID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	includeSettings, _ := strconv.ParseBool(query.Get("include_settings"))
	out := make([]connection, 0, len(accounts))
	for _, account := range accounts {
		conn := newConnection(account)
		if includeSettings {
			settings, err := h.cfg.Identity.GetAccountSettings(r.Context(), account.ID)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			conn.Settings = settings
		}
		out = append(out, conn)
	}
	return map[string]interface{}{"connections": out}, nil
}

// createConnectionReq is the connection create request body.
type createConnectionReq struct {
	ProfileID      string            `json:"profile_id"`
	Platform       string            `json:"platform"`
	ExternalUserID string            `json:"external_user_id"`
	ExternalHandle string            `json:"external_handle"`
	AccessToken    string            `json:"access_token"`
	RefreshToken   string            `json:"refresh_token,omitempty"`
	Settings       map[string]string `json:"settings,omitempty"`
}

func (h *Handler) createConnection(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	var req createConnectionReq
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.AccessToken == "" {
		return nil, trace.BadParameter("missing parameter access_token")
	}
	if _, err := h.profileForUser(r.Context(), session, req.ProfileID); err != nil {
		return nil, trace.Wrap(err)
	}
	sealed, err := h.cfg.Key.Seal([]byte(req.AccessToken))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	account := services.Account{
		ProfileID:         req.ProfileID,
		Platform:          req.Platform,
		ExternalUserID:    req.ExternalUserID,
		ExternalHandle:    req.ExternalHandle,
		AccessTokenSealed: sealed,
		Active:            true,
	}
	if req.RefreshToken != "" {
		if account.RefreshTokenSealed, err = h.cfg.Key.Seal([]byte(req.RefreshToken)); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	created, err := h.cfg.Identity.CreateAccount(r.Context(), account)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for key, value := range req.Settings {
		if err := h.cfg.Identity.UpsertAccountSetting(r.Context(), created.ID, key, value); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return map[string]interface{}{
		"account_id": created.ID,
		"profile_id": created.ProfileID,
	}, nil
}

func (h *Handler) updateConnection(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	account, err := h.accountForUser(r.Context(), session, p.ByName("account_id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var req struct {
		Active *bool `json:"is_active"`
	}
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.Active == nil {
		return nil, trace.BadParameter("missing parameter is_active")
	}
	account.Active = *req.Active
	if err := h.cfg.Identity.UpdateAccount(r.Context(), *account); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]interface{}{
		"success":    true,
		"connection": newConnection(*account),
	}, nil
}

func (h *Handler) deleteConnection(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	ctx := r.Context()
	account, err := h.accountForUser(ctx, session, p.ByName("account_id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	deletedStores, err := h.cfg.Store.DeleteAccountStores(ctx, account.Platform, account.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := h.cfg.Identity.DeleteAccount(ctx, account.ID); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := h.cfg.Limits.DeleteRateLimit(ctx, account.ID); err != nil && !trace.IsNotFound(err) {
		return nil, trace.Wrap(err)
	}
	if err := h.cfg.Syncer.RegenerateTimeline(ctx, session.UserID); err != nil {
		h.log.WithError(err).Warnf("Failed to regenerate timeline for user %v.", session.UserID)
	}
	return map[string]interface{}{
		"deleted":        true,
		"deleted_stores": deletedStores,
		"affected_users": []string{session.UserID},
	}, nil
}

// postConnection dispatches POST /connections/{account_id}: the
// refresh-all shortcut fans out to every account of the user.
func (h *Handler) postConnection(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	if p.ByName("account_id") != refreshAllShortcut {
		return nil, trace.NotFound("unknown connection operation")
	}
	accounts, err := h.userAccounts(r.Context(), session.UserID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	active := 0
	for _, account := range accounts {
		if account.Active {
			active++
		}
	}
	status, err := h.cfg.Syncer.RefreshAll(r.Context(), session.UserID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]interface{}{
		"status":   status,
		"accounts": active,
	}, nil
}

func (h *Handler) refreshConnection(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	account, err := h.accountForUser(r.Context(), session, p.ByName("account_id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	status, err := h.cfg.Syncer.RefreshOne(r.Context(), *account)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]interface{}{"status": status}, nil
}

func (h *Handler) getConnectionSettings(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	account, err := h.accountForUser(r.Context(), session, p.ByName("account_id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	settings, err := h.cfg.Identity.GetAccountSettings(r.Context(), account.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]interface{}{"settings": settings}, nil
}

func (h *Handler) putConnectionSettings(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	account, err := h.accountForUser(r.Context(), session, p.ByName("account_id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var req struct {
		Settings map[string]string `json:"settings"`
	}
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if len(req.Settings) == 0 {
		return nil, trace.BadParameter("missing parameter settings")
	}
	for key, value := range req.Settings {
		if err := h.cfg.Identity.UpsertAccountSetting(r.Context(), account.ID, key, value); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return map[string]interface{}{"updated": true}, nil
}

func (h *Handler) getConnectionRepos(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	account, err := h.accountForUser(r.Context(), session, p.ByName("account_id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if account.Platform != pulse.PlatformGithub {
		return nil, trace.BadParameter("account %q is not a code host account", account.ID)
	}
	snapshot, err := h.cfg.Store.GetLatest(r.Context(), store.GithubMetaID(account.ID))
	if err != nil {
		if trace.IsNotFound(err) {
			return map[string]interface{}{"repos": []providers.Repo{}}, nil
		}
		return nil, trace.Wrap(err)
	}
	var meta providers.GithubMeta
	if err := json.Unmarshal(snapshot.Data, &meta); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]interface{}{"repos": meta.Repos}, nil
}

func (h *Handler) getConnectionSubreddits(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	account, err := h.accountForUser(r.Context(), session, p.ByName("account_id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if account.Platform != pulse.PlatformReddit {
		return nil, trace.BadParameter("account %q is not a reddit account", account.ID)
	}
	snapshot, err := h.cfg.Store.GetLatest(r.Context(), store.RedditMetaID(account.ID))
	if err != nil {
		if trace.IsNotFound(err) {
			return map[string]interface{}{
				"subreddits": []string{},
				"username":   account.ExternalHandle,
			}, nil
		}
		return nil, trace.Wrap(err)
	}
	var meta providers.RedditMeta
	if err := json.Unmarshal(snapshot.Data, &meta); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]interface{}{
		"subreddits": meta.Subreddits,
		"username":   meta.Username,
	}, nil
}

func (h *Handler) listProfiles(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	profiles, err := h.cfg.Identity.GetProfiles(r.Context(), session.UserID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]interface{}{"profiles": profiles}, nil
}

func (h *Handler) createProfile(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	var req services.Profile
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	req.UserID = session.UserID
	profile, err := h.cfg.Identity.CreateProfile(r.Context(), req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return profile, nil
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	profile, err := h.profileForUser(r.Context(), session, p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return profile, nil
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	profile, err := h.profileForUser(r.Context(), session, p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Theme       *string `json:"theme"`
	}
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.Name != nil {
		profile.Name = *req.Name
	}
	if req.Description != nil {
		profile.Description = *req.Description
	}
	if req.Theme != nil {
		profile.Theme = *req.Theme
	}
	if err := h.cfg.Identity.UpdateProfile(r.Context(), *profile); err != nil {
		return nil, trace.Wrap(err)
	}
	return profile, nil
}

func (h *Handler) deleteProfile(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	ctx := r.Context()
	profile, err := h.profileForUser(ctx, session, p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	accounts, err := h.cfg.Identity.GetAccounts(ctx, profile.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	deletedAccounts, err := h.cfg.Identity.DeleteProfile(ctx, profile.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var deletedStores []string
	for _, account := range accounts {
		doomed, err := h.cfg.Store.DeleteAccountStores(ctx, account.Platform, account.ID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		deletedStores = append(deletedStores, doomed...)
	}
	return map[string]interface{}{
		"deleted":          true,
		"deleted_accounts": deletedAccounts,
		"deleted_stores":   deletedStores,
	}, nil
}

func (h *Handler) listFilters(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	profile, err := h.profileForUser(r.Context(), session, p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	filters, err := h.cfg.Identity.GetFilters(r.Context(), profile.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]interface{}{"filters": filters}, nil
}

func (h *Handler) createFilter(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	profile, err := h.profileForUser(r.Context(), session, p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var req services.Filter
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	req.ProfileID = profile.ID
	if req.AccountID != "" {
		account, err := h.cfg.Identity.GetAccount(r.Context(), req.AccountID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if account.ProfileID != profile.ID {
			return nil, trace.AccessDenied("account %q does not belong to profile %q", req.AccountID, profile.ID)
		}
	}
	filter, err := h.cfg.Identity.CreateFilter(r.Context(), req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return filter, nil
}

func (h *Handler) deleteFilter(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	profile, err := h.profileForUser(r.Context(), session, p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := h.cfg.Identity.DeleteFilter(r.Context(), profile.ID, p.ByName("filter_id")); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]interface{}{"deleted": true}, nil
}

func (h *Handler) getProfileTimeline(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	profile, err := h.cfg.Identity.GetProfileBySlug(r.Context(), session.UserID, p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	query := r.URL.Query()
	params := timeline.ViewParams{
		Before: query.Get("before"),
		Limit:  defaults.TimelineItemLimit,
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return nil, trace.BadParameter("invalid limit %q", raw)
		}
		params.Limit = limit
	}
	view, err := h.cfg.Assembler.ProfileTimeline(r.Context(), *profile, params)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := json.Marshal(view)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return snapshotResponse{
		Meta: &store.Meta{
			StoreID:   store.TimelineID(profile.UserID).String(),
			CreatedAt: view.GeneratedAt,
		},
		Data: data,
	}, nil
}

// credentialStatus is the external JSON shape of a platform
// credential, with the sealed secret stripped.
type credentialStatus struct {
	ProfileID string    `json:"profile_id"`
	Platform  string    `json:"platform"`
	ClientID  string    `json:"client_id"`
	Verified  bool      `json:"is_verified"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) getCredential(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	profile, err := h.profileForUser(r.Context(), session, r.URL.Query().Get("profile_id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cred, err := h.cfg.Identity.GetPlatformCredential(r.Context(), profile.ID, p.ByName("platform"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return credentialStatus{
		ProfileID: cred.ProfileID,
		Platform:  cred.Platform,
		ClientID:  cred.ClientID,
		Verified:  cred.Verified,
		CreatedAt: cred.CreatedAt,
	}, nil
}

func (h *Handler) putCredential(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	var req struct {
		ProfileID    string `json:"profile_id"`
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	profile, err := h.profileForUser(r.Context(), session, req.ProfileID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if req.ClientID == "" || req.ClientSecret == "" {
		return nil, trace.BadParameter("missing parameter client_id or client_secret")
	}
	sealed, err := h.cfg.Key.Seal([]byte(req.ClientSecret))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := h.cfg.Identity.UpsertPlatformCredential(r.Context(), services.PlatformCredential{
		ProfileID:          profile.ID,
		Platform:           p.ByName("platform"),
		ClientID:           req.ClientID,
		ClientSecretSealed: sealed,
	}); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]interface{}{"saved": true, "is_verified": false}, nil
}

func (h *Handler) deleteCredential(w http.ResponseWriter, r *http.Request, p httprouter.Params, session *Session) (interface{}, error) {
	profile, err := h.profileForUser(r.Context(), session, r.URL.Query().Get("profile_id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := h.cfg.Identity.DeletePlatformCredential(r.Context(), profile.ID, p.ByName("platform")); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]interface{}{"deleted": true}, nil
}

// profileForUser returns the profile when the session's user owns it.
func (h *Handler) profileForUser(ctx context.Context, session *Session, profileID string) (*services.Profile, error) {
	if profileID == "" {
		return nil, trace.BadParameter("missing parameter profile_id")
	}
	profile, err := h.cfg.Identity.GetProfile(ctx, profileID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if profile.UserID != session.UserID {
		return nil, trace.AccessDenied("access denied to profile %q", profileID)
	}
	return profile, nil
}

// accountForUser returns the account when the session's user owns it
// via its profile.
func (h *Handler) accountForUser(ctx context.Context, session *Session, accountID string) (*services.Account, error) {
	if accountID == "" {
		return nil, trace.BadParameter("missing parameter account_id")
	}
	account, err := h.cfg.Identity.GetAccount(ctx, accountID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := h.profileForUser(ctx, session, account.ProfileID); err != nil {
		return nil, trace.Wrap(err)
	}
	return account, nil
}

// userAccounts returns every account across the user's profiles.
func (h *Handler) userAccounts(ctx context.Context, userID string) ([]services.Account, error) {
	profiles, err := h.cfg.Identity.GetProfiles(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var accounts []services.Account
	for _, profile := range profiles {
		batch, err := h.cfg.Identity.GetAccounts(ctx, profile.ID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		accounts = append(accounts, batch...)
	}
	return accounts, nil
}
