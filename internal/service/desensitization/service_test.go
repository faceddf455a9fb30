package desensitization_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwinyue/family-health/internal/apperr"
	"github.com/ashwinyue/family-health/internal/model"
	"github.com/ashwinyue/family-health/internal/service/desensitization"
	"github.com/ashwinyue/family-health/internal/testutil"
)

func newService(t *testing.T) (*desensitization.Service, string) {
	t.Helper()
	repos := testutil.Repos(t)
	u := testutil.CreateUser(t, repos, "alice", model.RoleOwner)
	return desensitization.NewService(repos, testutil.Box(t), nil), u.ID
}

func TestCreateRuleValidation(t *testing.T) {
	svc, uid := newService(t)
	ctx := context.Background()

	_, err := svc.CreateRule(ctx, uid, &desensitization.RuleCreateRequest{RuleType: "glob", Pattern: "x", ReplacementToken: "[X]"})
	assert.True(t, apperr.HasCode(err, 5001))

	_, err = svc.CreateRule(ctx, uid, &desensitization.RuleCreateRequest{RuleType: "regex", Pattern: "(", ReplacementToken: "[X]"})
	assert.True(t, apperr.HasCode(err, 5003))

	rule, err := svc.CreateRule(ctx, uid, &desensitization.RuleCreateRequest{RuleType: "REGEX", Pattern: `\d+`, ReplacementToken: "[N]"})
	require.NoError(t, err)
	assert.Equal(t, "regex", rule.RuleType)
	assert.Equal(t, model.ScopeGlobal, rule.MemberScope)
	assert.True(t, rule.Enabled)
}

func TestUpdateAndDeleteRule(t *testing.T) {
	svc, uid := newService(t)
	ctx := context.Background()
	rule, err := svc.CreateRule(ctx, uid, &desensitization.RuleCreateRequest{RuleType: "literal", Pattern: "张三", ReplacementToken: "[[NAME]]"})
	require.NoError(t, err)

	off := false
	updated, err := svc.UpdateRule(ctx, uid, rule.ID, &desensitization.RuleUpdateRequest{Enabled: &off})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)

	enabled, err := svc.ListRules(ctx, uid, true)
	require.NoError(t, err)
	assert.Empty(t, enabled)
	all, err := svc.ListRules(ctx, uid, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	badType := "regex"
	badPattern := "["
	_, err = svc.UpdateRule(ctx, uid, rule.ID, &desensitization.RuleUpdateRequest{RuleType: &badType, Pattern: &badPattern})
	assert.True(t, apperr.HasCode(err, 5003))

	_, err = svc.UpdateRule(ctx, "other", rule.ID, &desensitization.RuleUpdateRequest{Enabled: &off})
	assert.True(t, apperr.HasCode(err, 5004))

	require.NoError(t, svc.DeleteRule(ctx, uid, rule.ID))
	assert.True(t, apperr.HasCode(svc.DeleteRule(ctx, uid, rule.ID), 5004))
}

func TestSanitizeRecordsVault(t *testing.T) {
	svc, uid := newService(t)
	ctx := context.Background()
	_, err := svc.CreateRule(ctx, uid, &desensitization.RuleCreateRequest{RuleType: "regex", Pattern: `\b1\d{10}\b`, ReplacementToken: "[[PHONE]]"})
	require.NoError(t, err)
	_, err = svc.CreateRule(ctx, uid, &desensitization.RuleCreateRequest{
		MemberScope: "grandpa", RuleType: "literal", Pattern: "王五", ReplacementToken: "[[NAME]]",
	})
	require.NoError(t, err)

	res, err := svc.Sanitize(ctx, uid, "grandpa", "王五 电话 13800138000")
	require.NoError(t, err)
	assert.Equal(t, "[[NAME]] 电话 [[PHONE]]", res.Text)
	assert.Equal(t, 2, res.Replacements)

	revealed, err := svc.Reveal(ctx, uid, res.MappingKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"13800138000"}, revealed["[[PHONE]]"])
	assert.Equal(t, []string{"王五"}, revealed["[[NAME]]"])

	// 其他成员范围不应用 grandpa 的规则
	res, err = svc.Sanitize(ctx, uid, "mom", "王五 来电")
	require.NoError(t, err)
	assert.Equal(t, "王五 来电", res.Text)
	assert.Empty(t, res.MappingKey)
}

func TestSanitizeStrongGate(t *testing.T) {
	svc, uid := newService(t)
	ctx := context.Background()

	_, err := svc.Sanitize(ctx, uid, "", "联系 someone@example.com")
	assert.True(t, apperr.HasCode(err, 5002))

	res, err := svc.Sanitize(ctx, uid, "", "今天血压正常")
	require.NoError(t, err)
	assert.Equal(t, "今天血压正常", res.Text)
}

func TestPreview(t *testing.T) {
	svc, uid := newService(t)
	ctx := context.Background()

	res, err := svc.Preview(ctx, uid, &desensitization.PreviewRequest{
		Text: "张三 13800138000",
		Rules: []desensitization.RuleCreateRequest{
			{RuleType: "literal", Pattern: "张三", ReplacementToken: "[[NAME]]"},
			{RuleType: "regex", Pattern: "(", ReplacementToken: "[[BAD]]"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "[[NAME]] 13800138000", res.MaskedText)
	require.Len(t, res.Spans, 1)
	assert.Equal(t, 0, res.Spans[0].Start)
	assert.Equal(t, 2, res.Spans[0].End)
	assert.Equal(t, []string{"draft-1"}, res.Invalid)
	assert.True(t, res.HighRisk)
}
