package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"oracle-service/internal/models"
	"oracle-service/internal/repository"
	"oracle-service/internal/services"
	"oracle-service/pkg/utils"

	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// TEST HELPERS
// ============================================================================

const testSecret = "test-secret"

type noopEscrow struct{}

func (noopEscrow) Hold(context.Context, string, int64) error    { return nil }
func (noopEscrow) Release(context.Context, string, int64) error { return nil }

type stubPolicies struct {
	policies map[string]models.PolicyTerms
}

func (p *stubPolicies) GetPolicy(_ context.Context, policyID string) (*models.PolicyTerms, error) {
	policy, ok := p.policies[policyID]
	if !ok {
		return nil, models.NewNotFoundError("policy", policyID)
	}
	return &policy, nil
}

func (p *stubPolicies) IsTriggered(ctx context.Context, policyID string) (bool, error) {
	policy, err := p.GetPolicy(ctx, policyID)
	if err != nil {
		return false, err
	}
	return policy.Status == models.PolicyTriggered, nil
}

type recordingRequester struct {
	mu       sync.Mutex
	requests []models.PayoutRequest
}

func (r *recordingRequester) RequestPayout(_ context.Context, request models.PayoutRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, request)
	return nil
}

func (r *recordingRequester) QueryPayoutStatus(context.Context, models.Payout) error {
	return nil
}

type testServer struct {
	app       *fiber.App
	policies  *stubPolicies
	requester *recordingRequester
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := repository.NewMemoryStore()
	policies := &stubPolicies{policies: map[string]models.PolicyTerms{}}
	requester := &recordingRequester{}

	registry := services.NewProviderRegistry(store, noopEscrow{}, 1000)
	ledger := services.NewObservationLedger(store, registry)
	reports := services.NewOffchainReportService(store)
	source := services.NewChainSource(
		services.NewReportSource(store),
		services.NewLedgerSource(ledger, services.NewDamageEngine()),
	)
	settlement := services.NewSettlementWorkflow(store, policies, source, requester, services.NewLocalLocker(), nil,
		services.SettlementConfig{BatchWorkers: 2, StaleProcessingAfter: time.Hour})

	auth := NewAuth(testSecret)
	app := fiber.New()
	NewProviderHandler(registry, auth).Register(app)
	NewObservationHandler(ledger, auth).Register(app)
	NewPayoutHandler(settlement, nil, auth).Register(app)
	NewReportHandler(reports, auth).Register(app)

	return &testServer{app: app, policies: policies, requester: requester}
}

func token(t *testing.T, userID string, roles ...models.Role) string {
	t.Helper()
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			Issuer:    "auth-service",
		},
		UserID: userID,
		Roles:  names,
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   utils.APIError  `json:"error"`
}

func (s *testServer) call(t *testing.T, method, path, bearer string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, "/oracle/protected/api/v1"+path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

// ============================================================================
// TEST SUITE 1: AUTHENTICATION & ROLES
// ============================================================================

func TestAuth_MissingToken(t *testing.T) {
	s := newTestServer(t)

	status, env := s.call(t, http.MethodGet, "/providers/list", "", nil)

	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "MISSING_TOKEN", env.Error.Code)
}

func TestAuth_WrongSecret(t *testing.T) {
	s := newTestServer(t)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "mallory"}).SignedString([]byte("other"))
	require.NoError(t, err)

	status, env := s.call(t, http.MethodGet, "/providers/list", forged, nil)

	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_TOKEN", env.Error.Code)
}

func TestAuth_RoleRequired(t *testing.T) {
	s := newTestServer(t)

	status, env := s.call(t, http.MethodPost, "/providers/self/register",
		token(t, "station-1", models.RoleVerifier), models.RegisterProviderRequest{Stake: 1500})

	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)
}

func TestAuth_AdminPassesRoleChecks(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.call(t, http.MethodPost, "/providers/self/register",
		token(t, "station-1", models.RoleAdmin), models.RegisterProviderRequest{Stake: 1500})

	assert.Equal(t, http.StatusCreated, status)
}

// ============================================================================
// TEST SUITE 2: PROVIDERS & OBSERVATIONS
// ============================================================================

func TestProviderHandler_RegisterUsesCallerIdentity(t *testing.T) {
	s := newTestServer(t)
	bearer := token(t, "station-1", models.RoleProvider)

	status, env := s.call(t, http.MethodPost, "/providers/self/register", bearer, models.RegisterProviderRequest{Stake: 1500})
	require.Equal(t, http.StatusCreated, status)
	provider := decode[models.Provider](t, env)
	assert.Equal(t, "station-1", provider.ID)
	assert.Equal(t, int64(1500), provider.Stake)

	status, env = s.call(t, http.MethodGet, "/providers/detail/station-1", bearer, nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, decode[models.Provider](t, env).Active)
}

func TestProviderHandler_StakeBelowMinimum(t *testing.T) {
	s := newTestServer(t)

	status, env := s.call(t, http.MethodPost, "/providers/self/register",
		token(t, "station-1", models.RoleProvider), models.RegisterProviderRequest{Stake: 999})

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
	assert.Equal(t, "stake.minimum", env.Error.Invariant)
}

func TestProviderHandler_UnknownProvider(t *testing.T) {
	s := newTestServer(t)

	status, env := s.call(t, http.MethodGet, "/providers/detail/ghost", token(t, "reader"), nil)

	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestObservationHandler_SubmitAndVerify(t *testing.T) {
	s := newTestServer(t)
	reporter := token(t, "station-1", models.RoleProvider, models.RoleVerifier)
	_, _ = s.call(t, http.MethodPost, "/providers/self/register", reporter, models.RegisterProviderRequest{Stake: 1500})

	status, env := s.call(t, http.MethodPost, "/observations/submit", reporter, models.SubmitObservationRequest{
		SubjectID:  "plot-1",
		Kind:       models.ObservationVegetation,
		RecordedAt: time.Now().Add(-time.Hour).UTC(),
		Vegetation: &models.VegetationData{AvgIndex: 5500, MinIndex: 4500, Trend: -1500, BaselineIndex: 7500},
	})
	require.Equal(t, http.StatusCreated, status)
	obs := decode[models.Observation](t, env)
	assert.Equal(t, models.ObservationPending, obs.Status)

	status, env = s.call(t, http.MethodPost, "/observations/verify/"+obs.ID.String(), reporter, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "verifier.independent", env.Error.Invariant)

	status, env = s.call(t, http.MethodPost, "/observations/verify/"+obs.ID.String(),
		token(t, "station-2", models.RoleVerifier), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.ObservationVerified, decode[models.Observation](t, env).Status)

	status, env = s.call(t, http.MethodGet, "/observations/latest/plot-1/vegetation", reporter, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, obs.ID, decode[models.Observation](t, env).ID)
}

func TestObservationHandler_InvalidID(t *testing.T) {
	s := newTestServer(t)

	status, env := s.call(t, http.MethodGet, "/observations/detail/not-a-uuid", token(t, "reader"), nil)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_UUID", env.Error.Code)
}

func TestObservationHandler_NoVerifiedData(t *testing.T) {
	s := newTestServer(t)

	status, env := s.call(t, http.MethodGet, "/observations/latest/plot-9/weather", token(t, "reader"), nil)

	assert.Equal(t, http.StatusTooEarly, status)
	assert.Equal(t, "NOT_READY", env.Error.Code)
}

// ============================================================================
// TEST SUITE 3: PAYOUTS
// ============================================================================

func (s *testServer) addPolicy(policyID string, status models.PolicyStatus) {
	s.policies.policies[policyID] = models.PolicyTerms{
		PolicyID:    policyID,
		ExternalRef: "ext-" + policyID,
		Status:      status,
		Beneficiary: "farmer-" + policyID,
		SubjectID:   "plot-" + policyID,
		SumInsured:  1000,
	}
}

func TestPayoutHandler_ReportBackedLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.addPolicy("p1", models.PolicyTriggered)
	operator := token(t, "ops-1", models.RoleOperator)

	status, _ := s.call(t, http.MethodPost, "/reports/ingest", operator, models.OffchainReport{
		PolicyID:            "p1",
		DamagePercentage:    5600,
		WeatherComponent:    6000,
		VegetationComponent: 5000,
		PayoutAmount:        371,
		AssessedAt:          time.Now().Add(-time.Hour).UTC(),
	})
	require.Equal(t, http.StatusOK, status)

	status, env := s.call(t, http.MethodPost, "/payouts/manage/initiate", operator, models.InitiatePayoutRequest{PolicyID: "p1"})
	require.Equal(t, http.StatusCreated, status)
	id := decode[models.Payout](t, env).ID.String()

	status, env = s.call(t, http.MethodPost, "/payouts/manage/"+id+"/calculate", operator, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(371), decode[models.Payout](t, env).PayoutAmount)

	status, _ = s.call(t, http.MethodPost, "/payouts/manage/"+id+"/approve", operator, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = s.call(t, http.MethodPost, "/payouts/manage/"+id+"/process", operator, nil)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, models.PayoutProcessing, decode[models.Payout](t, env).Status)
	require.Len(t, s.requester.requests, 1)

	status, env = s.call(t, http.MethodPost, "/payouts/admin/"+id+"/confirm",
		token(t, "root", models.RoleAdmin), models.ConfirmPayoutRequest{SettlementReference: "tx-1"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.PayoutCompleted, decode[models.Payout](t, env).Status)

	status, env = s.call(t, http.MethodGet, "/payouts/assessments/p1", operator, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(5600), decode[models.DamageAssessment](t, env).DamagePercentage)
}

func TestPayoutHandler_InitiateErrors(t *testing.T) {
	s := newTestServer(t)
	s.addPolicy("quiet", models.PolicyActive)
	s.addPolicy("p1", models.PolicyTriggered)
	operator := token(t, "ops-1", models.RoleOperator)

	status, env := s.call(t, http.MethodPost, "/payouts/manage/initiate", operator, models.InitiatePayoutRequest{PolicyID: "quiet"})
	assert.Equal(t, http.StatusTooEarly, status)
	assert.Equal(t, "policy.triggered", env.Error.Invariant)

	status, _ = s.call(t, http.MethodPost, "/payouts/manage/initiate", operator, models.InitiatePayoutRequest{PolicyID: "p1"})
	require.Equal(t, http.StatusCreated, status)

	status, env = s.call(t, http.MethodPost, "/payouts/manage/initiate", operator, models.InitiatePayoutRequest{PolicyID: "p1"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "payout.one_active_per_policy", env.Error.Invariant)
}

func TestPayoutHandler_OperatorCannotOverride(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.call(t, http.MethodPost, "/payouts/admin/"+uuid.NewString()+"/reassess",
		token(t, "ops-1", models.RoleOperator), nil)

	assert.Equal(t, http.StatusForbidden, status)
}

func TestPayoutHandler_EmptyBatch(t *testing.T) {
	s := newTestServer(t)

	status, env := s.call(t, http.MethodPost, "/payouts/manage/batches",
		token(t, "ops-1", models.RoleOperator), models.CreateBatchRequest{})

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "batch.non_empty", env.Error.Invariant)
}

func TestPayoutHandler_HistoryWithoutArchive(t *testing.T) {
	s := newTestServer(t)

	status, env := s.call(t, http.MethodGet, "/payouts/assessments/p1/history", token(t, "reader"), nil)

	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "ARCHIVE_UNAVAILABLE", env.Error.Code)
}

// ============================================================================
// TEST SUITE 4: ERROR MAPPING
// ============================================================================

func TestRespondError_Mapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", models.NewValidationError("x.rule", "bad"), http.StatusBadRequest, "VALIDATION_FAILED"},
		{"authorization", models.NewAuthorizationError("x.rule", "no"), http.StatusForbidden, "UNAUTHORIZED"},
		{"not found", models.NewNotFoundError("payout", "1"), http.StatusNotFound, "NOT_FOUND"},
		{"conflict", models.NewStateConflictError("x.rule", "busy"), http.StatusConflict, "STATE_CONFLICT"},
		{"not ready", models.NewNotReadyError("x.rule", "later"), http.StatusTooEarly, "NOT_READY"},
		{"busy", models.NewBusyError("x.rule", "locked"), http.StatusLocked, "RESOURCE_BUSY"},
		{"dependency", models.NewExternalDependencyError("policy.get", errors.New("down")), http.StatusBadGateway, "EXTERNAL_DEPENDENCY"},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c fiber.Ctx) error { return respondError(c, tt.err, "do thing") })

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
			require.NoError(t, err)
			defer resp.Body.Close()

			var env envelope
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.False(t, env.Success)
		})
	}
}
