package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"wager-ledger/config"
	"wager-ledger/services"
	"wager-ledger/shard"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	dir := t.TempDir()
	dbs, err := shard.Open("sqlite", []string{filepath.Join(dir, "s0.db"), filepath.Join(dir, "s1.db")})
	require.NoError(t, err)
	router, err := shard.New(dbs, shard.StrategyXXHash)
	require.NoError(t, err)
	registryDB, err := shard.OpenDB("sqlite", filepath.Join(dir, "registry.db"))
	require.NoError(t, err)

	accounts := services.NewAccountStore(router)
	require.NoError(t, accounts.Migrate())
	intents := services.NewIntentLog(registryDB)
	registry := services.NewMatchRegistry(registryDB, intents)
	require.NoError(t, registry.Migrate())
	escrow, err := services.NewEscrowService(accounts, registry, intents, services.EscrowConfig{
		RemainderPolicy: config.RemainderDiscard,
		SafeZone:        services.DefaultSafeZonePolicy,
	})
	require.NoError(t, err)

	app := fiber.New()
	SetupLedgerRoutes(app, &LedgerHandler{
		Escrow:     escrow,
		Accounts:   accounts,
		Wheel:      services.NewWheelService(accounts, registryDB, 7),
		Reconciler: services.NewReconciler(escrow, 0),
	})
	return app
}

type caller struct {
	user, roles string
}

func (c caller) send(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.Header.Set("X-User-ID", c.user)
	}
	if c.roles != "" {
		req.Header.Set("X-User-Roles", c.roles)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestMatchLifecycleOverHTTP(t *testing.T) {
	app := newTestApp(t)
	admin := caller{user: "ops", roles: "admin"}
	server := caller{user: "game-server", roles: "match_operator"}
	alice, bob := caller{user: "alice"}, caller{user: "bob"}

	for _, id := range []string{"alice", "bob"} {
		status, _ := admin.send(t, app, "POST", "/admin/accounts", fmt.Sprintf(`{"id":%q}`, id))
		require.Equal(t, 201, status)
		status, _ = admin.send(t, app, "POST", "/admin/accounts/"+id+"/deposit", `{"amount":100,"reference":"seed"}`)
		require.Equal(t, 200, status)
	}

	status, body := server.send(t, app, "POST", "/matches", `{"name":"Night Drop","stake_unit":30,"expected_players":2}`)
	require.Equal(t, 201, status)
	matchID := body["id"].(string)
	assert.Len(t, body["safe_zone"], services.DefaultSafeZonePolicy.Small.Stages)

	status, _ = alice.send(t, app, "POST", "/matches/"+matchID+"/join", `{"squad":"red"}`)
	require.Equal(t, 200, status)
	status, body = bob.send(t, app, "POST", "/matches/"+matchID+"/join", "")
	require.Equal(t, 200, status)
	assert.EqualValues(t, 60, body["pot"])

	status, body = alice.send(t, app, "POST", "/matches/"+matchID+"/join", "")
	assert.Equal(t, 409, status)
	assert.Equal(t, string(services.CodeInvalidState), body["code"])

	status, _ = server.send(t, app, "POST", "/matches/"+matchID+"/outcomes", `{"winner_id":"alice","loser_id":"bob"}`)
	require.Equal(t, 200, status)

	status, body = server.send(t, app, "POST", "/matches/"+matchID+"/settle", "")
	require.Equal(t, 200, status)
	assert.Equal(t, map[string]any{"alice": float64(60)}, body["payouts"])

	status, body = alice.send(t, app, "GET", "/accounts/alice", "")
	require.Equal(t, 200, status)
	assert.EqualValues(t, 160, body["balance"])

	status, body = bob.send(t, app, "GET", "/accounts/bob/entries", "")
	require.Equal(t, 200, status)
	assert.Len(t, body["entries"], 3)
}

func TestErrorStatusMapping(t *testing.T) {
	app := newTestApp(t)
	admin := caller{user: "ops", roles: "admin"}
	poor := caller{user: "poor"}

	status, _ := poor.send(t, app, "GET", "/matches/missing", "")
	assert.Equal(t, 404, status)

	status, body := admin.send(t, app, "POST", "/matches", `{"name":"","stake_unit":1,"expected_players":2}`)
	assert.Equal(t, 400, status)
	assert.Equal(t, string(services.CodeInvalidArgument), body["code"])

	status, _ = admin.send(t, app, "POST", "/admin/accounts", `{"id":"poor"}`)
	require.Equal(t, 201, status)
	status, body = admin.send(t, app, "POST", "/matches", `{"name":"Expensive","stake_unit":50,"expected_players":2}`)
	require.Equal(t, 201, status)
	status, body = poor.send(t, app, "POST", "/matches/"+body["id"].(string)+"/join", "")
	assert.Equal(t, 402, status)
	assert.Equal(t, string(services.CodeInsufficientFunds), body["code"])

	status, _ = poor.send(t, app, "POST", "/wheel/spin", `{"budget":10}`)
	assert.Equal(t, 422, status)

	status, _ = caller{}.send(t, app, "POST", "/wheel/spin", `{"budget":10}`)
	assert.Equal(t, 401, status)
	status, _ = poor.send(t, app, "POST", "/admin/accounts", `{"id":"sneaky"}`)
	assert.Equal(t, 403, status)
	status, _ = admin.send(t, app, "POST", "/matches", `{not json`)
	assert.Equal(t, 400, status)
}

func TestWheelOverHTTP(t *testing.T) {
	app := newTestApp(t)
	admin := caller{user: "ops", roles: "admin"}
	player := caller{user: "player"}

	status, body := admin.send(t, app, "POST", "/admin/wheel/prizes",
		`{"prizes":[{"name":"gold coin","weight":1,"cost":5,"value":50},{"name":"hidden","weight":1,"cost":1,"active":false}]}`)
	require.Equal(t, 200, status)
	assert.Len(t, body["prizes"], 2)

	status, body = player.send(t, app, "GET", "/wheel/prizes", "")
	require.Equal(t, 200, status)
	require.Len(t, body["prizes"], 1)

	status, _ = admin.send(t, app, "POST", "/admin/accounts", `{"id":"player"}`)
	require.Equal(t, 201, status)
	status, _ = admin.send(t, app, "POST", "/admin/accounts/player/deposit", `{"amount":20}`)
	require.Equal(t, 200, status)

	status, body = player.send(t, app, "POST", "/wheel/spin", `{"budget":5}`)
	require.Equal(t, 201, status)
	assert.Equal(t, "gold coin", body["prize_name"])

	status, body = player.send(t, app, "GET", "/wheel/draws", "")
	require.Equal(t, 200, status)
	assert.Len(t, body["draws"], 1)

	status, body = admin.send(t, app, "POST", "/admin/reconcile", "")
	require.Equal(t, 200, status)
	assert.Contains(t, body, "scanned")
}

func TestPlayersCannotDecideMatches(t *testing.T) {
	app := newTestApp(t)
	admin := caller{user: "ops", roles: "admin"}
	server := caller{user: "game-server", roles: "match_operator"}
	mallory, alice := caller{user: "mallory"}, caller{user: "alice"}

	for _, id := range []string{"mallory", "alice"} {
		status, _ := admin.send(t, app, "POST", "/admin/accounts", fmt.Sprintf(`{"id":%q}`, id))
		require.Equal(t, 201, status)
		status, _ = admin.send(t, app, "POST", "/admin/accounts/"+id+"/deposit", `{"amount":100}`)
		require.Equal(t, 200, status)
	}

	status, _ := mallory.send(t, app, "POST", "/matches", `{"name":"Rigged","stake_unit":50,"expected_players":2}`)
	assert.Equal(t, 403, status)

	status, body := server.send(t, app, "POST", "/matches", `{"name":"Fair","stake_unit":50,"expected_players":2}`)
	require.Equal(t, 201, status)
	matchID := body["id"].(string)
	for _, c := range []caller{mallory, alice} {
		status, _ = c.send(t, app, "POST", "/matches/"+matchID+"/join", "")
		require.Equal(t, 200, status)
	}

	for _, c := range []caller{mallory, {}} {
		status, _ = c.send(t, app, "POST", "/matches/"+matchID+"/outcomes", `{"winner_id":"mallory","loser_id":"alice"}`)
		assert.Equal(t, 403, status)
		status, _ = c.send(t, app, "POST", "/matches/"+matchID+"/settle", "")
		assert.Equal(t, 403, status)
		status, _ = c.send(t, app, "POST", "/matches/"+matchID+"/cancel", "")
		assert.Equal(t, 403, status)
	}

	status, _ = mallory.send(t, app, "GET", "/accounts/alice", "")
	assert.Equal(t, 403, status)
	status, _ = mallory.send(t, app, "GET", "/accounts/alice/entries", "")
	assert.Equal(t, 403, status)
	status, _ = admin.send(t, app, "GET", "/accounts/alice/entries", "")
	assert.Equal(t, 200, status)

	status, body = mallory.send(t, app, "GET", "/accounts/mallory", "")
	require.Equal(t, 200, status)
	assert.EqualValues(t, 50, body["balance"])
	status, body = server.send(t, app, "GET", "/matches/"+matchID, "")
	require.Equal(t, 200, status)
	assert.Equal(t, true, body["active"])
	assert.EqualValues(t, 100, body["pot"])
}
