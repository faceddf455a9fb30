package registry_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwinyue/family-health/internal/apperr"
	"github.com/ashwinyue/family-health/internal/model"
	"github.com/ashwinyue/family-health/internal/service/llm"
	"github.com/ashwinyue/family-health/internal/service/registry"
	"github.com/ashwinyue/family-health/internal/testutil"
)

type stubChat struct{ target llm.Target }

func (s *stubChat) Generate(ctx context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	return schema.AssistantMessage("ok", nil), nil
}

func (s *stubChat) Stream(ctx context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage("ok", nil)}), nil
}

func newService(t *testing.T) (*registry.Service, string) {
	t.Helper()
	cfg := testutil.Config(t)
	repos := testutil.Repos(t)
	u := testutil.CreateUser(t, repos, "alice", model.RoleOwner)
	return registry.NewService(repos, testutil.Box(t), &cfg.Registry, nil), u.ID
}

func createProvider(t *testing.T, svc *registry.Service, userID, name string) *model.ModelProvider {
	t.Helper()
	p, err := svc.CreateProvider(context.Background(), userID, &registry.ProviderCreateRequest{
		ProviderName: name,
		BaseURL:      "https://api.example.com/v1",
		APIKey:       "sk-test",
	})
	require.NoError(t, err)
	return p
}

func TestCreateProviderSealsKey(t *testing.T) {
	svc, uid := newService(t)
	p := createProvider(t, svc, uid, "deepseek")
	assert.True(t, p.Enabled)
	assert.NotEqual(t, "sk-test", p.APIKeyEncrypted)

	_, err := svc.CreateProvider(context.Background(), uid, &registry.ProviderCreateRequest{
		ProviderName: "x", BaseURL: "ftp://nope", APIKey: "k",
	})
	assert.True(t, apperr.HasCode(err, 3004))
}

func TestUpdateProvider(t *testing.T) {
	svc, uid := newService(t)
	ctx := context.Background()
	p := createProvider(t, svc, uid, "openai")

	off := false
	bad := "not a url"
	_, err := svc.UpdateProvider(ctx, uid, p.ID, &registry.ProviderUpdateRequest{BaseURL: &bad})
	assert.True(t, apperr.HasCode(err, 3004))

	got, err := svc.UpdateProvider(ctx, uid, p.ID, &registry.ProviderUpdateRequest{Enabled: &off})
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	_, err = svc.UpdateProvider(ctx, "someone-else", p.ID, &registry.ProviderUpdateRequest{Enabled: &off})
	assert.True(t, apperr.HasCode(err, 3001))
}

func TestRefreshModelsStaticDefaults(t *testing.T) {
	svc, uid := newService(t)
	ctx := context.Background()
	p := createProvider(t, svc, uid, "Google-Gemini")

	items, err := svc.RefreshModels(ctx, uid, p.ID, []string{"my-tuned"})
	require.NoError(t, err)
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.ModelName)
	}
	assert.Equal(t, []string{"gemini-2.0-flash", "gemini-2.0-pro", "text-embedding-004", "my-tuned"}, names)

	// 再次刷新时静态表不应被上一次的手动模型污染
	items, err = svc.RefreshModels(ctx, uid, p.ID, nil)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	emb, err := svc.ListCatalog(ctx, uid, p.ID, model.ModelTypeEmbedding)
	require.NoError(t, err)
	require.Len(t, emb, 1)
	assert.Equal(t, "text-embedding-004", emb[0].ModelName)

	providers, err := svc.ListProviders(ctx, uid)
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.NotNil(t, providers[0].LastRefreshAt)
}

func TestRefreshModelsUnknownProvider(t *testing.T) {
	svc, uid := newService(t)
	p := createProvider(t, svc, uid, "local-llm")

	items, err := svc.RefreshModels(context.Background(), uid, p.ID, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "custom-model", items[0].ModelName)
}

func TestRefreshModelsLiveDiscovery(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[{"id":"chat-large"},{"id":"text-embed-3"},{"id":"bge-rerank"}]}`))
	}))
	defer ts.Close()

	cfg := testutil.Config(t)
	cfg.Registry.LiveDiscovery = true
	repos := testutil.Repos(t)
	u := testutil.CreateUser(t, repos, "bob", model.RoleOwner)
	svc := registry.NewService(repos, testutil.Box(t), &cfg.Registry, nil)
	svc.HTTPClient = testutil.NewTestClient(ts)

	p := createProvider(t, svc, u.ID, "openai")
	items, err := svc.RefreshModels(context.Background(), u.ID, p.ID, nil)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, model.ModelTypeLLM, items[0].ModelType)
	assert.Equal(t, model.ModelTypeEmbedding, items[1].ModelType)
	assert.Equal(t, model.ModelTypeReranker, items[2].ModelType)
}

func TestProfilesClipAndDefault(t *testing.T) {
	svc, uid := newService(t)
	ctx := context.Background()
	p := createProvider(t, svc, uid, "deepseek")
	items, err := svc.RefreshModels(ctx, uid, p.ID, nil)
	require.NoError(t, err)

	name := "fast"
	yes := true
	first, err := svc.CreateProfile(ctx, uid, &registry.ProfileRequest{
		Name:       &name,
		LLMModelID: &items[0].ID,
		Params:     model.JSON{"temperature": 0.3, "reasoning_budget": 100, "reasoning_effort": "low"},
		IsDefault:  &yes,
	})
	require.NoError(t, err)
	assert.Equal(t, model.JSON{"temperature": 0.3, "reasoning_effort": "low"}, first.Params)

	_, err = svc.CreateProfile(ctx, uid, &registry.ProfileRequest{Name: &name})
	assert.True(t, apperr.HasCode(err, 3002))

	other := "slow"
	second, err := svc.CreateProfile(ctx, uid, &registry.ProfileRequest{Name: &other, IsDefault: &yes})
	require.NoError(t, err)

	def, err := svc.DefaultProfile(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, second.ID, def.ID)

	reloaded, err := svc.GetProfile(ctx, uid, first.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsDefault)

	_, err = svc.GetProfile(ctx, uid, "missing")
	assert.True(t, apperr.HasCode(err, 3003))
}

func TestResolveLLM(t *testing.T) {
	svc, uid := newService(t)
	ctx := context.Background()

	_, _, err := svc.ResolveLLM(ctx, uid, "")
	assert.ErrorIs(t, err, registry.ErrNotConfigured)

	var got llm.Target
	svc.NewChat = func(ctx context.Context, target llm.Target) (einomodel.BaseChatModel, error) {
		got = target
		return &stubChat{target: target}, nil
	}

	p := createProvider(t, svc, uid, "deepseek")
	items, err := svc.RefreshModels(ctx, uid, p.ID, nil)
	require.NoError(t, err)
	name := "default"
	yes := true
	_, err = svc.CreateProfile(ctx, uid, &registry.ProfileRequest{
		Name: &name, LLMModelID: &items[1].ID, IsDefault: &yes,
		Params: model.JSON{"temperature": 0.5},
	})
	require.NoError(t, err)

	cm, profile, err := svc.ResolveLLM(ctx, uid, "")
	require.NoError(t, err)
	require.NotNil(t, cm)
	assert.Equal(t, "default", profile.Name)
	assert.Equal(t, "sk-test", got.APIKey)
	assert.Equal(t, "deepseek-reasoner", got.Model)
	assert.Equal(t, 0.5, got.Params["temperature"])

	off := false
	_, err = svc.UpdateProvider(ctx, uid, p.ID, &registry.ProviderUpdateRequest{Enabled: &off})
	require.NoError(t, err)
	_, _, err = svc.ResolveLLM(ctx, uid, "")
	assert.ErrorIs(t, err, registry.ErrNotConfigured)
}

func TestDeleteProviderRemovesCatalog(t *testing.T) {
	svc, uid := newService(t)
	ctx := context.Background()
	p := createProvider(t, svc, uid, "deepseek")
	_, err := svc.RefreshModels(ctx, uid, p.ID, nil)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteProvider(ctx, uid, p.ID))
	items, err := svc.ListCatalog(ctx, uid, "", "")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestPresets(t *testing.T) {
	ps := registry.Presets()
	require.Len(t, ps, 5)
	ps[0].ProviderName = "changed"
	assert.Equal(t, "gemini", registry.Presets()[0].ProviderName)
}
