package export_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwinyue/family-health/internal/apperr"
	"github.com/ashwinyue/family-health/internal/config"
	"github.com/ashwinyue/family-health/internal/extract"
	"github.com/ashwinyue/family-health/internal/model"
	"github.com/ashwinyue/family-health/internal/repository"
	"github.com/ashwinyue/family-health/internal/service/chat"
	"github.com/ashwinyue/family-health/internal/service/desensitization"
	"github.com/ashwinyue/family-health/internal/service/export"
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
	cfg    *config.Config
	svc    *export.Service
	chat   *chat.Service
	kb     *knowledge.Service
	repos  *repository.Repositories
	store  file.Storage
	userID string
	other  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testutil.Config(t)
	repos := testutil.Repos(t)
	u := testutil.CreateUser(t, repos, "alice", model.RoleOwner)
	o := testutil.CreateUser(t, repos, "bob", model.RoleMember)
	store, err := file.NewLocalStorage(cfg.Storage.DataRoot)
	require.NoError(t, err)
	ex := extract.New()
	desens := desensitization.NewService(repos, testutil.Box(t), nil)
	kb := knowledge.NewService(repos, store, &cfg.Storage, desens, noModels{}, ex, nil)
	chatSvc := chat.NewService(repos, session.NewManager(nil, nil), store, &cfg.Storage, desens, kb, ex, nil)
	svc := export.NewService(repos, store, &cfg.Storage, &cfg.Export, nil)
	return &fixture{cfg: cfg, svc: svc, chat: chatSvc, kb: kb, repos: repos, store: store, userID: u.ID, other: o.ID}
}

// seed 为用户写入一条聊天和一个上传文档
func (f *fixture) seed(t *testing.T, userID, text string) (*model.ChatMessage, string) {
	t.Helper()
	ctx := context.Background()
	s, err := f.chat.CreateSession(ctx, userID, &chat.CreateSessionRequest{})
	require.NoError(t, err)
	msg, err := f.chat.AddMessage(ctx, userID, s.ID, &chat.AddMessageRequest{Content: text})
	require.NoError(t, err)

	kb, err := f.kb.Create(ctx, userID, &knowledge.CreateRequest{Name: "kb-" + text})
	require.NoError(t, err)
	res, err := f.kb.Upload(ctx, userID, kb.ID, "report.txt", "text/plain", []byte(text+" 报告内容"))
	require.NoError(t, err)
	return msg, res.DocumentID
}

func waitDone(t *testing.T, svc *export.Service, userID, id string) *model.ExportJob {
	t.Helper()
	var job *model.ExportJob
	require.Eventually(t, func() bool {
		j, err := svc.GetJob(context.Background(), userID, id)
		if err != nil {
			return false
		}
		job = j
		return j.Status == model.ExportDone || j.Status == model.ExportFailed
	}, 5*time.Second, 20*time.Millisecond)
	return job
}

func readZip(t *testing.T, rc io.ReadCloser) map[string]string {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	files := make(map[string]string)
	for _, f := range zr.File {
		r, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(r)
		require.NoError(t, err)
		_ = r.Close()
		files[f.Name] = string(b)
	}
	return files
}

func TestCandidatesScopedToUser(t *testing.T) {
	f := newFixture(t)
	msg, docID := f.seed(t, f.userID, "alice-"+strings.Repeat("长", 200))
	f.seed(t, f.other, "bob")

	c, err := f.svc.Candidates(context.Background(), f.userID, export.Filters{})
	require.NoError(t, err)
	require.Len(t, c.Chat, 1)
	assert.Equal(t, msg.ID, c.Chat[0].ID)
	assert.Len(t, []rune(c.Chat[0].Preview), 120)
	require.Len(t, c.KB, 1)
	assert.Equal(t, docID, c.KB[0].ID)
	assert.NotEmpty(t, c.KB[0].MaskedPath)
	assert.True(t, strings.HasPrefix(c.KB[0].KBName, "kb-alice"))
}

func TestCreateJobRejectsUnknownType(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateJob(context.Background(), f.userID, &export.CreateRequest{ExportTypes: []string{"audio"}})
	assert.True(t, apperr.HasCode(err, 8003))
}

func TestExportJobLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.svc.Start(ctx)
	defer f.svc.Stop()

	msg, _ := f.seed(t, f.userID, "alice")
	f.seed(t, f.other, "bob")

	job, err := f.svc.CreateJob(ctx, f.userID, &export.CreateRequest{
		ExportTypes:    []string{"chat", "kb", "chat"},
		IncludeRawFile: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"chat", "kb"}, []string(job.ExportTypes))
	assert.Equal(t, model.ScopeGlobal, job.MemberScope)
	assert.True(t, job.IncludeSanitizedText)

	done := waitDone(t, f.svc, f.userID, job.ID)
	require.Equal(t, model.ExportDone, done.Status, done.ErrorMessage)
	assert.Len(t, done.Items, 2)

	name, rc, err := f.svc.Download(ctx, f.userID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID+".zip", name)
	files := readZip(t, rc)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(files["manifest.json"]), &m))
	assert.EqualValues(t, 2, m["item_count"])
	assert.Contains(t, files["chat/"+msg.ID+".json"], "alice")

	var kbFile, rawFile string
	for n, content := range files {
		switch {
		case strings.HasPrefix(n, "kb/"):
			kbFile = content
		case strings.HasPrefix(n, "raw/"):
			rawFile = content
		}
	}
	assert.Contains(t, kbFile, "报告内容")
	assert.Equal(t, "alice 报告内容", rawFile)
	for n := range files {
		assert.NotContains(t, n, "bob")
	}

	_, _, err = f.svc.Download(ctx, f.other, job.ID)
	assert.True(t, apperr.HasCode(err, 8001))

	jobs, err := f.svc.ListJobs(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	require.NoError(t, f.svc.DeleteJob(ctx, f.userID, job.ID))
	ok, err := f.store.Exists(ctx, done.ArchivePath)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = f.svc.GetJob(ctx, f.userID, job.ID)
	assert.True(t, apperr.HasCode(err, 8001))
}

func TestDownloadNotReady(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// 未启动 worker，任务停留在 pending
	job, err := f.svc.CreateJob(ctx, f.userID, &export.CreateRequest{ExportTypes: []string{"chat"}})
	require.NoError(t, err)
	assert.Equal(t, model.ExportPending, job.Status)

	_, _, err = f.svc.Download(ctx, f.userID, job.ID)
	assert.True(t, apperr.HasCode(err, 8002))

	require.NoError(t, f.svc.Process(ctx, job.ID))
	got, err := f.svc.GetJob(ctx, f.userID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExportDone, got.Status)
}

func TestStartResumesPendingJobs(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.seed(t, f.userID, "alice")

	job, err := f.svc.CreateJob(ctx, f.userID, &export.CreateRequest{ExportTypes: []string{"kb"}, IncludeSanitizedText: new(bool)})
	require.NoError(t, err)

	// 新实例模拟重启，队列为空
	restarted := export.NewService(f.repos, f.store, &f.cfg.Storage, &f.cfg.Export, nil)
	restarted.Start(ctx)
	defer restarted.Stop()

	done := waitDone(t, restarted, f.userID, job.ID)
	assert.Equal(t, model.ExportDone, done.Status)
	assert.False(t, done.IncludeSanitizedText)
}

func TestRequeuedJobDoesNotDuplicateItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, f.userID, "alice")

	job, err := f.svc.CreateJob(ctx, f.userID, &export.CreateRequest{ExportTypes: []string{"chat", "kb"}})
	require.NoError(t, err)
	require.NoError(t, f.svc.Process(ctx, job.ID))

	// 模拟进程在任务完成前退出，重启后再次处理
	stored, err := f.repos.Export.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	stored.Status = model.ExportProcessing
	require.NoError(t, f.repos.Export.SaveJob(ctx, stored))
	require.NoError(t, f.svc.Process(ctx, job.ID))

	got, err := f.svc.GetJob(ctx, f.userID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExportDone, got.Status)
	assert.Len(t, got.Items, 2)
}
