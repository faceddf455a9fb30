package desensitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func phoneRule() Rule {
	return Rule{ID: "phone", Type: RuleRegex, Pattern: `\b1\d{10}\b`, Token: "[[PHONE]]", Enabled: true}
}

func nameRule() Rule {
	return Rule{ID: "name", Type: RuleLiteral, Pattern: "张三", Token: "[[NAME]]", Enabled: true}
}

func TestApplyReplacesInOrder(t *testing.T) {
	e := New([]Rule{nameRule(), phoneRule()})

	masked, reps := e.Apply("张三 电话 13800138000，张三复诊")
	assert.Equal(t, "[[NAME]] 电话 [[PHONE]]，[[NAME]]复诊", masked)
	require.Len(t, reps, 3)
	assert.Equal(t, Replacement{RuleID: "name", Original: "张三", Token: "[[NAME]]"}, reps[0])
	assert.Equal(t, "13800138000", reps[2].Original)
}

func TestApplyLaterRuleSeesEarlierToken(t *testing.T) {
	e := New([]Rule{
		{ID: "a", Type: RuleLiteral, Pattern: "abc", Token: "[X]", Enabled: true},
		{ID: "b", Type: RuleLiteral, Pattern: "[X]", Token: "Y", Enabled: true},
	})
	assert.Equal(t, "Y-Y", e.Mask("abc-abc"))
}

func TestApplyTokenIsLiteral(t *testing.T) {
	e := New([]Rule{{ID: "r", Type: RuleRegex, Pattern: `(\d+)`, Token: "$1", Enabled: true}})
	assert.Equal(t, "id=$1", e.Mask("id=42"))
}

func TestNewSkipsDisabledAndInvalid(t *testing.T) {
	e := New([]Rule{
		{ID: "off", Type: RuleLiteral, Pattern: "x", Token: "y", Enabled: false},
		{ID: "bad", Type: RuleRegex, Pattern: "(", Token: "y", Enabled: true},
		{ID: "empty", Type: RuleLiteral, Pattern: "", Token: "y", Enabled: true},
		{ID: "odd", Type: "glob", Pattern: "*", Token: "y", Enabled: true},
		nameRule(),
	})
	assert.Equal(t, 1, e.Len())
	assert.Len(t, e.Invalid(), 3)
	assert.ErrorIs(t, e.Invalid()["odd"], ErrUnsupportedType)
	assert.Equal(t, "x", e.Mask("x"))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(RuleRegex, `\d{3}`))
	assert.NoError(t, Validate(RuleLiteral, "a(b"))
	assert.Error(t, Validate(RuleRegex, "a(b"))
	assert.ErrorIs(t, Validate("other", "x"), ErrUnsupportedType)
}

func TestHighlightDropsOverlaps(t *testing.T) {
	e := New([]Rule{
		{ID: "long", Type: RuleRegex, Pattern: `\d{11}`, Token: "[L]", Enabled: true},
		{ID: "short", Type: RuleRegex, Pattern: `\d{3}`, Token: "[S]", Enabled: true},
	})

	spans := e.Highlight("13800138000")
	require.Len(t, spans, 3)
	for i, s := range spans {
		assert.Equal(t, "short", s.RuleID)
		assert.Equal(t, i*3, s.Start)
		assert.Equal(t, i*3+3, s.End)
	}
}

func TestHighlightUsesRuneOffsets(t *testing.T) {
	e := New([]Rule{phoneRule(), nameRule()})

	spans := e.Highlight("张三电话 13800138000")
	require.Len(t, spans, 2)
	assert.Equal(t, Span{Start: 0, End: 2, RuleID: "name", Token: "[[NAME]]", Text: "张三"}, spans[0])
	assert.Equal(t, 5, spans[1].Start)
	assert.Equal(t, 16, spans[1].End)
	assert.Equal(t, "13800138000", spans[1].Text)
}

func TestHighlightSkipsEmptyMatches(t *testing.T) {
	e := New([]Rule{{ID: "star", Type: RuleRegex, Pattern: `a*`, Token: "[A]", Enabled: true}})
	spans := e.Highlight("baab")
	require.Len(t, spans, 1)
	assert.Equal(t, 1, spans[0].Start)
	assert.Equal(t, 3, spans[0].End)
	assert.Equal(t, "b[A]b", e.Mask("baab"))
}

func TestCounts(t *testing.T) {
	e := New([]Rule{nameRule(), phoneRule()})
	hits := e.Counts("病历：张三，家属张三")

	require.Len(t, hits, 2)
	assert.Equal(t, Hit{RuleID: "name", Count: 2, First: 3, Length: 2}, hits[0])
	assert.Equal(t, Hit{RuleID: "phone", Count: 0, First: -1}, hits[1])
}

func TestRenderHTML(t *testing.T) {
	e := New([]Rule{nameRule()})
	text := "a<b 张三"
	out := RenderHTML(text, e.Highlight(text))
	assert.Equal(t, `a&lt;b <mark data-token="[[NAME]]" data-rule-id="name">张三</mark>`, out)
}

func TestHighRisk(t *testing.T) {
	assert.True(t, HighRisk("call 13800138000"))
	assert.True(t, HighRisk("mail me: a.b@example.com"))
	assert.True(t, HighRisk("id 11010519491231002X"))
	assert.False(t, HighRisk("血压 120/80，心率 72"))
	assert.False(t, HighRisk("[[PHONE]]"))
}

// \b 只认 ASCII 单词字符，紧贴中文的号码同样命中
func TestPhoneNextToCJK(t *testing.T) {
	assert.True(t, HighRisk("手机13800138000"))
	assert.True(t, HighRisk("13800138000号"))
	assert.False(t, HighRisk("a13800138000"))

	var preset Preset
	for _, p := range Presets() {
		if p.Key == "PHONE" {
			preset = p
		}
	}
	e := New([]Rule{{ID: "phone", Type: preset.RuleType, Pattern: preset.Pattern, Token: preset.ReplacementToken, Enabled: true}})
	assert.Equal(t, "手机[[PHONE]]，复诊", e.Mask("手机13800138000，复诊"))
}

func TestPresetsCompile(t *testing.T) {
	for _, p := range Presets() {
		if p.Pattern == "" {
			continue
		}
		assert.NoError(t, Validate(p.RuleType, p.Pattern), p.Key)
	}
}
