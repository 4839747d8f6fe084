package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/approvio/pkg/channels/gochannel"
	"github.com/dukex/approvio/pkg/cmd"
	"github.com/dukex/approvio/pkg/eventbus"
	"github.com/dukex/approvio/pkg/models"
	"github.com/dukex/approvio/pkg/persistence"
	"github.com/dukex/approvio/pkg/persistence/memory"
	"github.com/dukex/approvio/pkg/testutil"
	"github.com/dukex/approvio/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) (*fiber.App, persistence.Persistence) {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	rolesPath := filepath.Join(t.TempDir(), "roles.json")
	err = os.WriteFile(rolesPath, []byte(`{"tenant-1": {"finance": ["fin-1", "fin-2"]}}`), 0o600)
	require.NoError(t, err)

	directory, err := cmd.NewRoleDirectory(rolesPath)
	require.NoError(t, err)

	p := memory.NewPersistence()

	api := NewAPI(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		p,
		directory,
		eventbus.NewWatermillEventBus(pub, sub),
	)

	return api.App(), p
}

func identifiedRequest(method, target string, body io.Reader, roles string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(web.HeaderTenantID, "tenant-1")
	req.Header.Set(web.HeaderActorID, "user-1")
	req.Header.Set(web.HeaderActorRoles, roles)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req
}

func TestAPI_RootEndpoint(t *testing.T) {
	app, _ := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Approvio API", string(body))
}

func TestAPI_Liveness(t *testing.T) {
	app, _ := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_MissingIdentityHeaders(t *testing.T) {
	app, _ := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/definitions", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_GetDefinitions_Empty(t *testing.T) {
	app, _ := setupTestApp(t)

	req := identifiedRequest(http.MethodGet, "/definitions", nil, "")
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Definitions []*models.WorkflowDefinition `json:"definitions"`
	}

	err = json.NewDecoder(resp.Body).Decode(&payload)
	require.NoError(t, err)
	assert.Empty(t, payload.Definitions)
}

func TestAPI_CreateDefinition(t *testing.T) {
	app, _ := setupTestApp(t)

	body := `{
		"document_type": "purchase_order",
		"name": "Purchase Order Approval",
		"active": true,
		"statuses": [
			{"key": "draft", "label": "Draft", "is_initial": true},
			{"key": "approved", "label": "Approved", "is_terminal": true}
		],
		"transitions": [
			{"id": "t-submit", "from_status_key": "draft", "to_status_key": "approved", "label": "Submit", "allowed_roles": ["requester"]}
		]
	}`

	req := identifiedRequest(http.MethodPost, "/definitions", strings.NewReader(body), "")
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.WorkflowDefinition

	err = json.NewDecoder(resp.Body).Decode(&created)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "tenant-1", created.TenantID)
	assert.Equal(t, "purchase_order", created.DocumentType)
}

func TestAPI_CreateDefinition_InvalidGraph(t *testing.T) {
	app, _ := setupTestApp(t)

	// No initial status.
	body := `{
		"document_type": "purchase_order",
		"name": "Broken",
		"active": true,
		"statuses": [{"key": "draft", "label": "Draft"}],
		"transitions": []
	}`

	req := identifiedRequest(http.MethodPost, "/definitions", strings.NewReader(body), "")
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_InstanceLifecycle(t *testing.T) {
	app, p := setupTestApp(t)

	definition := testutil.CreateTestDefinition()
	require.NoError(t, p.Definitions().Save(context.Background(), definition))

	// Initialize an instance for a document.
	req := identifiedRequest(http.MethodPost, "/instances",
		strings.NewReader(`{"document_type": "purchase_order", "document_id": 42}`), "requester")
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var instance models.WorkflowInstance

	err = json.NewDecoder(resp.Body).Decode(&instance)
	require.NoError(t, err)
	assert.Equal(t, "draft", instance.CurrentStatusKey)

	// The same document cannot be initialized twice.
	req = identifiedRequest(http.MethodPost, "/instances",
		strings.NewReader(`{"document_type": "purchase_order", "document_id": 42}`), "requester")
	resp, err = app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Lookup by document.
	req = identifiedRequest(http.MethodGet, "/instances/by-document/purchase_order/42", nil, "requester")
	resp, err = app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Available transitions for the requester role.
	req = identifiedRequest(http.MethodGet, "/instances/"+instance.ID+"/transitions", nil, "requester")
	resp, err = app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var available struct {
		Transitions []*models.WorkflowTransition `json:"transitions"`
	}

	err = json.NewDecoder(resp.Body).Decode(&available)
	require.NoError(t, err)
	require.Len(t, available.Transitions, 1)
	assert.Equal(t, "t-submit", available.Transitions[0].ID)

	// Invoke the transition.
	req = identifiedRequest(http.MethodPost, "/instances/"+instance.ID+"/transitions/t-submit",
		strings.NewReader(`{"comment": "ready for review"}`), "requester")
	resp, err = app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	// History now carries the initialization and the transition.
	req = identifiedRequest(http.MethodGet, "/instances/"+instance.ID+"/history", nil, "requester")
	resp, err = app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history struct {
		History []*models.WorkflowHistory `json:"history"`
	}

	err = json.NewDecoder(resp.Body).Decode(&history)
	require.NoError(t, err)
	assert.Len(t, history.History, 2)
}

func TestAPI_TransitionWithoutRole(t *testing.T) {
	app, p := setupTestApp(t)

	definition := testutil.CreateTestDefinition()
	require.NoError(t, p.Definitions().Save(context.Background(), definition))

	req := identifiedRequest(http.MethodPost, "/instances",
		strings.NewReader(`{"document_type": "purchase_order", "document_id": 7}`), "viewer")
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var instance models.WorkflowInstance

	err = json.NewDecoder(resp.Body).Decode(&instance)
	require.NoError(t, err)

	req = identifiedRequest(http.MethodPost, "/instances/"+instance.ID+"/transitions/t-submit", nil, "viewer")
	resp, err = app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAPI_ApprovalFlow(t *testing.T) {
	app, p := setupTestApp(t)

	definition := testutil.CreateTestDefinition(
		testutil.WithApprovalGate(models.ApprovalTypeSingle, "finance"),
	)
	require.NoError(t, p.Definitions().Save(context.Background(), definition))

	req := identifiedRequest(http.MethodPost, "/instances",
		strings.NewReader(`{"document_type": "purchase_order", "document_id": 11}`), "requester")
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var instance models.WorkflowInstance

	err = json.NewDecoder(resp.Body).Decode(&instance)
	require.NoError(t, err)

	// A gated transition parks on a pending approval batch.
	req = identifiedRequest(http.MethodPost, "/instances/"+instance.ID+"/transitions/t-submit", nil, "requester")
	resp, err = app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// The directory resolved finance to fin-1 and fin-2.
	rows, err := p.Approvals().ListPendingByApprover(context.Background(), "tenant-1", "fin-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// fin-1 approves through the API; single policy resolves the batch.
	req = identifiedRequest(http.MethodPost, "/approvals/"+rows[0].ID+"/respond",
		strings.NewReader(`{"decision": "approved", "comment": "looks good"}`), "finance")
	req.Header.Set(web.HeaderActorID, "fin-1")
	resp, err = app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	updated, err := p.Instances().GetByID(context.Background(), "tenant-1", instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "approved", updated.CurrentStatusKey)
}

func TestAPI_CORS_Headers(t *testing.T) {
	app, _ := setupTestApp(t)

	req := httptest.NewRequest(http.MethodOptions, "/definitions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
