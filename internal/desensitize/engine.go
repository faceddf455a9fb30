// Package desensitize 实现脱敏规则的匹配、替换与高亮
//
// 同一套规则既用于入库前的强制脱敏，也用于预览时返回高亮区间。
package desensitize

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// RuleType 规则类型
type RuleType string

const (
	RuleLiteral RuleType = "literal"
	RuleRegex   RuleType = "regex"
)

var (
	// ErrUnsupportedType 不支持的规则类型
	ErrUnsupportedType = errors.New("unsupported rule type")
	// ErrEmptyPattern 规则内容为空
	ErrEmptyPattern = errors.New("empty pattern")
)

// Rule 脱敏规则
type Rule struct {
	ID      string
	Type    RuleType
	Pattern string
	Token   string
	Enabled bool
}

// Replacement 一次替换（原文用于写入 PII 映射库）
type Replacement struct {
	RuleID   string
	Original string
	Token    string
}

// Span 高亮区间，Start/End 为 rune 偏移，左闭右开
type Span struct {
	Start  int    `json:"start"`
	End    int    `json:"end"`
	RuleID string `json:"rule_id"`
	Token  string `json:"token"`
	Text   string `json:"text"`
}

// Hit 单条规则命中统计
type Hit struct {
	RuleID string `json:"rule_id"`
	Count  int    `json:"count"`
	// First 首次命中的 rune 偏移，未命中为 -1
	First  int `json:"first"`
	Length int `json:"length"`
}

type compiled struct {
	rule Rule
	re   *regexp.Regexp
}

// Engine 已编译的规则集合，按传入顺序执行
type Engine struct {
	rules   []compiled
	invalid map[string]error
}

// Validate 校验单条规则
func Validate(ruleType RuleType, pattern string) error {
	_, err := compile(Rule{Type: ruleType, Pattern: pattern})
	return err
}

func compile(r Rule) (*regexp.Regexp, error) {
	if r.Pattern == "" {
		return nil, ErrEmptyPattern
	}
	switch r.Type {
	case RuleLiteral:
		return regexp.MustCompile(regexp.QuoteMeta(r.Pattern)), nil
	case RuleRegex:
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", r.Pattern, err)
		}
		return re, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, r.Type)
	}
}

// New 编译启用的规则，非法规则被跳过并记录在 Invalid 中
func New(rules []Rule) *Engine {
	e := &Engine{invalid: make(map[string]error)}
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		re, err := compile(r)
		if err != nil {
			e.invalid[r.ID] = err
			continue
		}
		e.rules = append(e.rules, compiled{rule: r, re: re})
	}
	return e
}

// Invalid 返回编译失败的规则
func (e *Engine) Invalid() map[string]error {
	return e.invalid
}

// Len 有效规则数
func (e *Engine) Len() int {
	return len(e.rules)
}

// Apply 依次执行规则并替换，后面的规则作用于前面规则替换后的文本
func (e *Engine) Apply(text string) (string, []Replacement) {
	var reps []Replacement
	for _, c := range e.rules {
		token := c.rule.Token
		text = c.re.ReplaceAllStringFunc(text, func(m string) string {
			if m == "" {
				return m
			}
			reps = append(reps, Replacement{RuleID: c.rule.ID, Original: m, Token: token})
			return token
		})
	}
	return text, reps
}

// Mask 仅返回替换后的文本
func (e *Engine) Mask(text string) string {
	masked, _ := e.Apply(text)
	return masked
}

// Highlight 在原文上收集所有规则命中，按 (start, end) 排序后去除重叠（先到先得）
func (e *Engine) Highlight(text string) []Span {
	idx := newRuneIndex(text)
	var all []Span
	for _, c := range e.rules {
		for _, loc := range c.re.FindAllStringIndex(text, -1) {
			if loc[0] == loc[1] {
				continue
			}
			all = append(all, Span{
				Start:  idx.at(loc[0]),
				End:    idx.at(loc[1]),
				RuleID: c.rule.ID,
				Token:  c.rule.Token,
				Text:   text[loc[0]:loc[1]],
			})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Start != all[j].Start {
			return all[i].Start < all[j].Start
		}
		return all[i].End < all[j].End
	})

	spans := make([]Span, 0, len(all))
	cursor := 0
	for _, s := range all {
		if s.Start < cursor {
			continue
		}
		spans = append(spans, s)
		cursor = s.End
	}
	return spans
}

// Counts 每条规则在原文中的命中次数与首个位置
func (e *Engine) Counts(text string) []Hit {
	idx := newRuneIndex(text)
	hits := make([]Hit, 0, len(e.rules))
	for _, c := range e.rules {
		h := Hit{RuleID: c.rule.ID, First: -1}
		for _, loc := range c.re.FindAllStringIndex(text, -1) {
			if loc[0] == loc[1] {
				continue
			}
			if h.Count == 0 {
				h.First = idx.at(loc[0])
				h.Length = utf8.RuneCountInString(text[loc[0]:loc[1]])
			}
			h.Count++
		}
		hits = append(hits, h)
	}
	return hits
}

// RenderHTML 转义原文，并用 <mark> 包裹高亮区间
func RenderHTML(text string, spans []Span) string {
	runes := []rune(text)
	var b strings.Builder
	cursor := 0
	for _, s := range spans {
		if s.Start < cursor || s.End > len(runes) {
			continue
		}
		b.WriteString(html.EscapeString(string(runes[cursor:s.Start])))
		fmt.Fprintf(&b, `<mark data-token="%s" data-rule-id="%s">%s</mark>`,
			html.EscapeString(s.Token), html.EscapeString(s.RuleID), html.EscapeString(string(runes[s.Start:s.End])))
		cursor = s.End
	}
	b.WriteString(html.EscapeString(string(runes[cursor:])))
	return b.String()
}

// runeIndex 字节偏移到 rune 偏移的转换
type runeIndex struct {
	text  string
	ascii bool
}

func newRuneIndex(text string) runeIndex {
	ascii := true
	for i := 0; i < len(text); i++ {
		if text[i] >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	return runeIndex{text: text, ascii: ascii}
}

func (r runeIndex) at(byteOffset int) int {
	if r.ascii {
		return byteOffset
	}
	return utf8.RuneCountInString(r.text[:byteOffset])
}
