package chat_test

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwinyue/family-health/internal/apperr"
	"github.com/ashwinyue/family-health/internal/extract"
	"github.com/ashwinyue/family-health/internal/model"
	"github.com/ashwinyue/family-health/internal/repository"
	"github.com/ashwinyue/family-health/internal/service/chat"
	"github.com/ashwinyue/family-health/internal/service/desensitization"
	"github.com/ashwinyue/family-health/internal/service/file"
	"github.com/ashwinyue/family-health/internal/service/knowledge"
	"github.com/ashwinyue/family-health/internal/service/registry"
	"github.com/ashwinyue/family-health/internal/service/session"
	"github.com/ashwinyue/family-health/internal/testutil"
)

type noModels struct{}

func (noModels) ResolveEmbedder(ctx context.Context, userID, modelID string) (embedding.Embedder, error) {
	return nil, registry.ErrNotConfigured
}

func (noModels) DefaultProfile(ctx context.Context, userID string) (*model.RuntimeProfile, error) {
	return nil, nil
}

type fixture struct {
	svc    *chat.Service
	kb     *knowledge.Service
	repos  *repository.Repositories
	userID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testutil.Config(t)
	repos := testutil.Repos(t)
	u := testutil.CreateUser(t, repos, "alice", model.RoleOwner)
	store, err := file.NewLocalStorage(cfg.Storage.DataRoot)
	require.NoError(t, err)
	ex := extract.New()
	desens := desensitization.NewService(repos, testutil.Box(t), nil)
	kb := knowledge.NewService(repos, store, &cfg.Storage, desens, noModels{}, ex, nil)
	svc := chat.NewService(repos, session.NewManager(nil, nil), store, &cfg.Storage, desens, kb, ex, nil)
	return &fixture{svc: svc, kb: kb, repos: repos, userID: u.ID}
}

func (f *fixture) session(t *testing.T, title string) *model.ChatSession {
	t.Helper()
	s, err := f.svc.CreateSession(context.Background(), f.userID, &chat.CreateSessionRequest{Title: title})
	require.NoError(t, err)
	return s
}

func TestCreateSessionDefaults(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, "  ")
	assert.Equal(t, "New Chat", s.Title)
	assert.Equal(t, 20, s.ContextMessageLimit)
	assert.True(t, s.ShowReasoning)
	assert.False(t, s.Archived)
}

func TestListSessionsFilterAndPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.session(t, "血压记录")
	f.session(t, "Sleep 50%")
	archived := f.session(t, "old")
	yes := true
	_, err := f.svc.UpdateSession(ctx, f.userID, archived.ID, &chat.UpdateSessionRequest{Archived: &yes})
	require.NoError(t, err)

	res, err := f.svc.ListSessions(ctx, f.userID, &chat.ListSessionsRequest{Query: "50%"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Sleep 50%", res.Items[0].Title)

	res, err = f.svc.ListSessions(ctx, f.userID, &chat.ListSessionsRequest{Archived: &yes})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Total)

	res, err = f.svc.ListSessions(ctx, f.userID, &chat.ListSessionsRequest{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Total)
	assert.Len(t, res.Items, 1)
}

func TestDeleteAndBulkDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := f.session(t, "a"), f.session(t, "b"), f.session(t, "c")

	require.NoError(t, f.svc.DeleteSession(ctx, f.userID, a.ID))
	_, err := f.svc.GetSession(ctx, f.userID, a.ID)
	assert.True(t, apperr.HasCode(err, 4001))

	n, err := f.svc.BulkDeleteSessions(ctx, f.userID, []string{a.ID, b.ID, c.ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMessagesAndCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, "体检")

	_, err := f.svc.AddMessage(ctx, f.userID, s.ID, &chat.AddMessageRequest{Content: "first"})
	require.NoError(t, err)
	m2, err := f.svc.AddMessage(ctx, f.userID, s.ID, &chat.AddMessageRequest{Role: "assistant", Content: "second"})
	require.NoError(t, err)

	msgs, err := f.svc.ListMessages(ctx, f.userID, s.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)

	hist, err := f.svc.History(ctx, s.ID, 1)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "second", hist[0].Content)

	branch, err := f.svc.CopySession(ctx, f.userID, s.ID, "Branch")
	require.NoError(t, err)
	assert.Equal(t, "Branch - 体检", branch.Title)
	copied, err := f.svc.ListMessages(ctx, f.userID, branch.ID)
	require.NoError(t, err)
	assert.Len(t, copied, 2)

	n, err := f.svc.DeleteMessages(ctx, f.userID, s.ID, []string{m2.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	hist, err = f.svc.History(ctx, s.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "first", hist[0].Content)

	_, err = f.svc.DeleteMessages(ctx, f.userID, s.ID, []string{m2.ID})
	assert.True(t, apperr.HasCode(err, 4008))
}

func TestExportMarkdown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, "Export me")
	_, err := f.svc.SaveMessage(ctx, &model.ChatMessage{
		SessionID: s.ID, Role: model.MessageRoleAssistant, Content: "answer", ReasoningContent: "thinking",
	})
	require.NoError(t, err)

	md, err := f.svc.ExportMarkdown(ctx, f.userID, s.ID, "md", true)
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Export me")
	assert.Contains(t, string(md), "thinking")

	md, err = f.svc.ExportMarkdown(ctx, f.userID, s.ID, "md", false)
	require.NoError(t, err)
	assert.NotContains(t, string(md), "thinking")

	_, err = f.svc.ExportMarkdown(ctx, f.userID, s.ID, "pdf", true)
	assert.True(t, apperr.HasCode(err, 4007))

	_, err = f.svc.BulkExportZip(ctx, f.userID, nil, true)
	assert.True(t, apperr.HasCode(err, 4006))

	data, err := f.svc.BulkExportZip(ctx, f.userID, []string{s.ID, "missing"}, true)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, s.ID+".md", zr.File[0].Name)
}

func TestAttachments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, "files")

	txt, err := f.svc.AddAttachment(ctx, f.userID, s.ID, &chat.UploadAttachment{
		FileName: "report.txt", ContentType: "text/plain", Data: []byte("cholesterol slightly high"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.ParseDone, txt.ParseStatus)

	img, err := f.svc.AddAttachment(ctx, f.userID, s.ID, &chat.UploadAttachment{
		FileName: "scan.png", ContentType: "image/png", Data: []byte{0x89, 0x50},
	})
	require.NoError(t, err)
	assert.True(t, img.IsImage)
	assert.Equal(t, model.ParseDone, img.ParseStatus)

	bad, err := f.svc.AddAttachment(ctx, f.userID, s.ID, &chat.UploadAttachment{
		FileName: "contact.txt", Data: []byte("phone 13800138000"),
	})
	assert.True(t, apperr.HasCode(err, 5002))
	require.NotNil(t, bad)
	assert.Equal(t, model.ParseError, bad.ParseStatus)

	texts, err := f.svc.AttachmentTexts(ctx, f.userID, s.ID, []string{txt.ID, img.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"cholesterol slightly high"}, texts)

	_, err = f.svc.AttachmentTexts(ctx, f.userID, s.ID, []string{bad.ID})
	assert.True(t, apperr.HasCode(err, 4004))

	_, err = f.svc.AttachmentTexts(ctx, f.userID, s.ID, []string{"nope"})
	assert.True(t, apperr.HasCode(err, 4003))
}

func TestAttachmentKBModes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, "kb")

	_, err := f.svc.AddAttachment(ctx, f.userID, s.ID, &chat.UploadAttachment{FileName: "a.txt", Data: []byte("x"), KBMode: "kb"})
	assert.True(t, apperr.HasCode(err, 4002))

	_, err = f.svc.AddAttachment(ctx, f.userID, s.ID, &chat.UploadAttachment{FileName: "a.txt", Data: []byte("x"), KBMode: "weird"})
	assert.True(t, apperr.HasCode(err, 4009))

	att, err := f.svc.AddAttachment(ctx, f.userID, s.ID, &chat.UploadAttachment{
		FileName: "diet.md", Data: []byte("less salt, more vegetables"), KBMode: "chat_default",
	})
	require.NoError(t, err)
	require.NotEmpty(t, att.KBID)
	assert.NotEmpty(t, att.KBDocumentID)

	items, err := f.kb.Retrieve(ctx, f.userID, &knowledge.RetrieveRequest{KBID: att.KBID, Query: "salt"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, strings.Contains(items[0].Text, "salt"))
}
