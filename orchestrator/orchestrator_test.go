package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/core/asyncmgr"
	asyncmgrstore "github.com/relaygate/core/asyncmgr/sqlstore"
	"github.com/relaygate/core/gatewayerr"
	"github.com/relaygate/core/llm"
	"github.com/relaygate/core/message"
	"github.com/relaygate/core/validate"
)

type fakeLLMClient struct {
	response *llm.Response
	err      error
	calls    int
	lastReq  *llm.ChatRequest
}

func (f *fakeLLMClient) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.Response, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}
func (f *fakeLLMClient) Completion(ctx context.Context, prompt string) (*llm.Response, error) {
	return f.response, f.err
}
func (f *fakeLLMClient) Stream(ctx context.Context, req *llm.ChatRequest, output chan<- *llm.Response) error {
	return f.err
}
func (f *fakeLLMClient) ChatStream(ctx context.Context, req *llm.ChatRequest) (llm.Stream, error) {
	return nil, f.err
}
func (f *fakeLLMClient) Model() string { return "fake" }

// fakeBearerClient additionally implements llm.BearerTokenSource, exercising
// the orchestrator's auth-diagnostic token wiring.
type fakeBearerClient struct {
	fakeLLMClient
	token string
}

func (f *fakeBearerClient) BearerToken() string { return f.token }

func expiredJWT(t *testing.T) string {
	t.Helper()
	claims := jwt.MapClaims{"exp": time.Now().Add(-2 * time.Hour).Unix()}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestNew_RequiresAtLeastOneClient(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNew_DefaultsRegistryAndOptions(t *testing.T) {
	o, err := New(Config{HTTPClient: &fakeLLMClient{response: &llm.Response{Content: "x"}}})
	require.NoError(t, err)
	assert.NotNil(t, o.validators)
	assert.True(t, o.options.AutoInjectJSONValidator)
}

func TestMakeRequest_HappyPath(t *testing.T) {
	client := &fakeLLMClient{response: &llm.Response{Content: "hi"}}
	o, err := New(Config{HTTPClient: client})
	require.NoError(t, err)

	resp, err := o.MakeRequest(context.Background(), message.CallConfig{
		Model:    "gpt-4o",
		Messages: []message.Message{{Role: message.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
	assert.Equal(t, 1, client.calls)
}

func TestMakeRequest_RejectsExplicitAsyncWait(t *testing.T) {
	o, err := New(Config{HTTPClient: &fakeLLMClient{}})
	require.NoError(t, err)

	no := false
	_, err = o.MakeRequest(context.Background(), message.CallConfig{Model: "gpt-4o", Messages: []message.Message{{Role: message.RoleUser, Content: "hi"}}, WaitForCompletion: &no})
	gerr, ok := gatewayerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gatewayerr.KindBadRequest, gerr.Kind)
}

func TestMakeRequest_NoCLIClientConfiguredIsBadRequest(t *testing.T) {
	o, err := New(Config{HTTPClient: &fakeLLMClient{}})
	require.NoError(t, err)

	_, err = o.MakeRequest(context.Background(), message.CallConfig{Model: "cli/claude", Messages: []message.Message{{Role: message.RoleUser, Content: "hi"}}})
	gerr, ok := gatewayerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gatewayerr.KindBadRequest, gerr.Kind)
}

func TestMakeRequest_ProviderErrorIsClassified(t *testing.T) {
	client := &fakeLLMClient{err: gatewayerr.New(gatewayerr.KindRateLimit, "slow down")}
	o, err := New(Config{HTTPClient: client})
	require.NoError(t, err)

	rc := message.RetryConfig{MaxAttempts: 1}
	_, err = o.MakeRequest(context.Background(), message.CallConfig{
		Model:       "gpt-4o",
		Messages:    []message.Message{{Role: message.RoleUser, Content: "hi"}},
		RetryConfig: rc,
	})
	gerr, ok := gatewayerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gatewayerr.KindRateLimit, gerr.Kind)
}

func TestMakeRequest_AuthErrorSurfacesJWTClockDriftFromLiveBearerToken(t *testing.T) {
	client := &fakeBearerClient{
		fakeLLMClient: fakeLLMClient{err: gatewayerr.New(gatewayerr.KindAuth, "token rejected")},
		token:         expiredJWT(t),
	}
	o, err := New(Config{HTTPClient: client})
	require.NoError(t, err)

	_, err = o.MakeRequest(context.Background(), message.CallConfig{
		Model:    "gpt-4o",
		Messages: []message.Message{{Role: message.RoleUser, Content: "hi"}},
	})
	gerr, ok := gatewayerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gatewayerr.KindAuth, gerr.Kind)
	require.NotNil(t, gerr.Diagnostic)
	assert.Equal(t, "JWT_TIME_VALIDATION", gerr.Diagnostic.Category)
	require.NotNil(t, gerr.Diagnostic.ClockDrift)
	assert.True(t, *gerr.Diagnostic.ClockDrift > 0)
}

func TestMakeRequest_NoBearerTokenSourceSkipsJWTDiagnosticWithoutPanic(t *testing.T) {
	client := &fakeLLMClient{err: gatewayerr.New(gatewayerr.KindAuth, "token rejected")}
	o, err := New(Config{HTTPClient: client})
	require.NoError(t, err)

	_, err = o.MakeRequest(context.Background(), message.CallConfig{
		Model:    "gpt-4o",
		Messages: []message.Message{{Role: message.RoleUser, Content: "hi"}},
	})
	gerr, ok := gatewayerr.As(err)
	require.True(t, ok)
	require.NotNil(t, gerr.Diagnostic)
	assert.NotEqual(t, "JWT_TIME_VALIDATION", gerr.Diagnostic.Category)
}

func TestMakeRequest_AutoInjectsJSONValidatorAndFailsOnNonJSON(t *testing.T) {
	client := &fakeLLMClient{response: &llm.Response{Content: "not json"}}
	o, err := New(Config{HTTPClient: client})
	require.NoError(t, err)

	rc := message.RetryConfig{MaxAttempts: 1}
	_, err = o.MakeRequest(context.Background(), message.CallConfig{
		Model:          "gpt-4o",
		Messages:       []message.Message{{Role: message.RoleUser, Content: "give me json"}},
		ResponseFormat: &message.ResponseFormat{Kind: "json_object"},
		RetryConfig:    rc,
	})
	gerr, ok := gatewayerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gatewayerr.KindValidationFailed, gerr.Kind)
}

func TestSubmitGetStatusWait_RequireAsyncManager(t *testing.T) {
	o, err := New(Config{HTTPClient: &fakeLLMClient{}})
	require.NoError(t, err)

	_, err = o.Submit(context.Background(), message.CallConfig{Model: "gpt-4o"})
	assertBadRequest(t, err)

	_, err = o.GetStatus(context.Background(), "x")
	assertBadRequest(t, err)

	_, err = o.Wait(context.Background(), "x", nil)
	assertBadRequest(t, err)

	err = o.Cancel(context.Background(), "x")
	assertBadRequest(t, err)

	_, err = o.ListActive(context.Background())
	assertBadRequest(t, err)
}

func TestSubmitAndWait_UsesOrchestratorPipelineAsExecutor(t *testing.T) {
	store, err := asyncmgrstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	client := &fakeLLMClient{response: &llm.Response{Content: "async done"}}
	o, err := New(Config{HTTPClient: client})
	require.NoError(t, err)

	mgr := asyncmgr.NewManager(context.Background(), store, o.Executor(), 2, nil, nil)
	o.asyncManager = mgr

	id, err := o.Submit(context.Background(), message.CallConfig{Model: "gpt-4o", Messages: []message.Message{{Role: message.RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	view, err := o.Wait(context.Background(), id, nil)
	require.NoError(t, err)
	assert.Equal(t, asyncmgr.StatusCompleted, view.Status)
	assert.Equal(t, "async done", view.Result.Content)
}

type noopValidator struct{}

func (noopValidator) Name() string { return "custom" }
func (noopValidator) Validate(ctx context.Context, resp *llm.Response, vctx validate.Context) (validate.ValidationResult, error) {
	return validate.ValidationResult{Valid: true}, nil
}

func TestRegisterValidator_AddsFactory(t *testing.T) {
	o, err := New(Config{HTTPClient: &fakeLLMClient{}})
	require.NoError(t, err)

	err = o.RegisterValidator("custom", func(params map[string]any) (validate.Validator, error) {
		return noopValidator{}, nil
	})
	require.NoError(t, err)

	err = o.RegisterValidator("custom", func(params map[string]any) (validate.Validator, error) {
		return noopValidator{}, nil
	})
	assert.Error(t, err, "duplicate registration must fail")
}

func assertBadRequest(t *testing.T, err error) {
	t.Helper()
	gerr, ok := gatewayerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gatewayerr.KindBadRequest, gerr.Kind)
}
