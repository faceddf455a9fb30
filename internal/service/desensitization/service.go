// Package desensitization 脱敏规则管理与入库前强制脱敏
package desensitization

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/apperr"
	"github.com/ashwinyue/family-health/internal/crypto"
	"github.com/ashwinyue/family-health/internal/desensitize"
	"github.com/ashwinyue/family-health/internal/logger"
	"github.com/ashwinyue/family-health/internal/model"
	"github.com/ashwinyue/family-health/internal/repository"
)

// Service 脱敏服务
type Service struct {
	repo *repository.Repositories
	box  *crypto.Box
	log  *zap.Logger
}

// NewService 创建脱敏服务
func NewService(repo *repository.Repositories, box *crypto.Box, log *zap.Logger) *Service {
	return &Service{repo: repo, box: box, log: logger.OrNop(log)}
}

// RuleCreateRequest 创建规则
type RuleCreateRequest struct {
	MemberScope      string `json:"member_scope" binding:"max=36"`
	RuleType         string `json:"rule_type"`
	Pattern          string `json:"pattern" binding:"required,min=1,max=500"`
	ReplacementToken string `json:"replacement_token" binding:"required,min=1,max=100"`
	Tag              string `json:"tag" binding:"max=40"`
	Enabled          *bool  `json:"enabled"`
}

// RuleUpdateRequest 更新规则
type RuleUpdateRequest struct {
	MemberScope      *string `json:"member_scope" binding:"omitempty,max=36"`
	RuleType         *string `json:"rule_type"`
	Pattern          *string `json:"pattern" binding:"omitempty,min=1,max=500"`
	ReplacementToken *string `json:"replacement_token" binding:"omitempty,min=1,max=100"`
	Tag              *string `json:"tag" binding:"omitempty,max=40"`
	Enabled          *bool   `json:"enabled"`
}

// PreviewRequest 预览请求，Rules 为空时使用用户已启用的规则
type PreviewRequest struct {
	Text        string              `json:"text"`
	MemberScope string              `json:"member_scope"`
	Rules       []RuleCreateRequest `json:"rules"`
}

// PreviewResult 预览结果
type PreviewResult struct {
	MaskedText string             `json:"masked_text"`
	HTML       string             `json:"html"`
	Spans      []desensitize.Span `json:"spans"`
	Counts     []desensitize.Hit  `json:"counts"`
	Invalid    []string           `json:"invalid_rule_ids"`
	HighRisk   bool               `json:"high_risk"`
}

// SanitizeResult 脱敏结果
type SanitizeResult struct {
	Text         string
	Replacements int
	MappingKey   string
}

// validate 校验规则类型与内容，返回规范化后的类型
func validate(ruleType, pattern string) (desensitize.RuleType, error) {
	t := desensitize.RuleType(strings.ToLower(strings.TrimSpace(ruleType)))
	if t == "" {
		t = desensitize.RuleLiteral
	}
	if t != desensitize.RuleLiteral && t != desensitize.RuleRegex {
		return "", apperr.ErrRuleType
	}
	if err := desensitize.Validate(t, pattern); err != nil {
		if errors.Is(err, desensitize.ErrEmptyPattern) {
			return "", apperr.New(apperr.CodeInvalidParams, "Invalid parameters: pattern is empty")
		}
		return "", apperr.ErrInvalidRegex
	}
	return t, nil
}

func scopeOrGlobal(scope string) string {
	if s := strings.TrimSpace(scope); s != "" {
		return s
	}
	return model.ScopeGlobal
}

// CreateRule 创建规则
func (s *Service) CreateRule(ctx context.Context, userID string, req *RuleCreateRequest) (*model.DesensitizationRule, error) {
	t, err := validate(req.RuleType, req.Pattern)
	if err != nil {
		return nil, err
	}
	rule := &model.DesensitizationRule{
		UserID:           userID,
		MemberScope:      scopeOrGlobal(req.MemberScope),
		RuleType:         string(t),
		Pattern:          req.Pattern,
		ReplacementToken: req.ReplacementToken,
		Tag:              req.Tag,
		Enabled:          req.Enabled == nil || *req.Enabled,
	}
	if err := s.repo.Desensitization.CreateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	return rule, nil
}

// ListRules 列出规则
func (s *Service) ListRules(ctx context.Context, userID string, enabledOnly bool) ([]*model.DesensitizationRule, error) {
	return s.repo.Desensitization.ListRules(ctx, userID, enabledOnly)
}

func (s *Service) getRule(ctx context.Context, userID, id string) (*model.DesensitizationRule, error) {
	rule, err := s.repo.Desensitization.GetRule(ctx, userID, id)
	if repository.IsNotFound(err) {
		return nil, apperr.ErrRuleNotFound
	}
	return rule, err
}

// UpdateRule 部分更新规则，类型或内容变化时重新校验
func (s *Service) UpdateRule(ctx context.Context, userID, id string, req *RuleUpdateRequest) (*model.DesensitizationRule, error) {
	rule, err := s.getRule(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	ruleType, pattern := rule.RuleType, rule.Pattern
	if req.RuleType != nil {
		ruleType = *req.RuleType
	}
	if req.Pattern != nil {
		pattern = *req.Pattern
	}
	t, err := validate(ruleType, pattern)
	if err != nil {
		return nil, err
	}
	rule.RuleType = string(t)
	rule.Pattern = pattern

	if req.MemberScope != nil {
		rule.MemberScope = scopeOrGlobal(*req.MemberScope)
	}
	if req.ReplacementToken != nil {
		rule.ReplacementToken = *req.ReplacementToken
	}
	if req.Tag != nil {
		rule.Tag = *req.Tag
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if err := s.repo.Desensitization.SaveRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("save rule: %w", err)
	}
	return rule, nil
}

// DeleteRule 删除规则
func (s *Service) DeleteRule(ctx context.Context, userID, id string) error {
	if _, err := s.getRule(ctx, userID, id); err != nil {
		return err
	}
	return s.repo.Desensitization.DeleteRule(ctx, id)
}

// Presets 内置规则模板
func (s *Service) Presets() []desensitize.Preset {
	return desensitize.Presets()
}

func toEngineRules(rows []*model.DesensitizationRule) []desensitize.Rule {
	rules := make([]desensitize.Rule, 0, len(rows))
	for _, r := range rows {
		rules = append(rules, desensitize.Rule{
			ID:      r.ID,
			Type:    desensitize.RuleType(r.RuleType),
			Pattern: r.Pattern,
			Token:   r.ReplacementToken,
			Enabled: r.Enabled,
		})
	}
	return rules
}

// Sanitize 按成员范围执行脱敏，并把原文加密写入映射库
// 没有任何替换但文本仍疑似含敏感信息时返回 5002
func (s *Service) Sanitize(ctx context.Context, userID, scope, text string) (*SanitizeResult, error) {
	rows, err := s.repo.Desensitization.ListRulesForScope(ctx, userID, scopeOrGlobal(scope))
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	engine := desensitize.New(toEngineRules(rows))
	for id, err := range engine.Invalid() {
		s.log.Warn("skip invalid desensitization rule", zap.String("rule_id", id), zap.Error(err))
	}

	masked, reps := engine.Apply(text)
	if len(reps) == 0 && desensitize.HighRisk(masked) {
		return nil, apperr.ErrPIIDetected
	}

	result := &SanitizeResult{Text: masked, Replacements: len(reps)}
	if len(reps) == 0 {
		return result, nil
	}

	result.MappingKey = model.NewID()
	mappings := make([]*model.PIIMapping, 0, len(reps))
	for _, r := range reps {
		sealed, err := s.box.Seal(r.Original)
		if err != nil {
			return nil, fmt.Errorf("seal original: %w", err)
		}
		mappings = append(mappings, &model.PIIMapping{
			UserID:                 userID,
			MappingKey:             result.MappingKey,
			OriginalValueEncrypted: sealed,
			ReplacementToken:       r.Token,
			HashFingerprint:        crypto.Fingerprint(r.Original),
		})
	}
	if err := s.repo.Desensitization.CreateMappings(ctx, mappings); err != nil {
		return nil, fmt.Errorf("record mappings: %w", err)
	}
	return result, nil
}

// Preview 返回脱敏预览，不写入映射库
func (s *Service) Preview(ctx context.Context, userID string, req *PreviewRequest) (*PreviewResult, error) {
	var rules []desensitize.Rule
	if len(req.Rules) > 0 {
		for i, r := range req.Rules {
			rules = append(rules, desensitize.Rule{
				ID:      fmt.Sprintf("draft-%d", i),
				Type:    desensitize.RuleType(strings.ToLower(r.RuleType)),
				Pattern: r.Pattern,
				Token:   r.ReplacementToken,
				Enabled: r.Enabled == nil || *r.Enabled,
			})
		}
	} else {
		rows, err := s.repo.Desensitization.ListRulesForScope(ctx, userID, scopeOrGlobal(req.MemberScope))
		if err != nil {
			return nil, fmt.Errorf("list rules: %w", err)
		}
		rules = toEngineRules(rows)
	}

	engine := desensitize.New(rules)
	masked := engine.Mask(req.Text)
	spans := engine.Highlight(req.Text)
	invalid := make([]string, 0, len(engine.Invalid()))
	for id := range engine.Invalid() {
		invalid = append(invalid, id)
	}
	return &PreviewResult{
		MaskedText: masked,
		HTML:       desensitize.RenderHTML(req.Text, spans),
		Spans:      spans,
		Counts:     engine.Counts(req.Text),
		Invalid:    invalid,
		HighRisk:   desensitize.HighRisk(masked),
	}, nil
}

// Reveal 解密某次脱敏的原文，仅限本人
func (s *Service) Reveal(ctx context.Context, userID, mappingKey string) (map[string][]string, error) {
	rows, err := s.repo.Desensitization.ListMappings(ctx, userID, mappingKey)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	for _, m := range rows {
		plain, err := s.box.Open(m.OriginalValueEncrypted)
		if err != nil {
			return nil, fmt.Errorf("open mapping: %w", err)
		}
		out[m.ReplacementToken] = append(out[m.ReplacementToken], plain)
	}
	return out, nil
}
