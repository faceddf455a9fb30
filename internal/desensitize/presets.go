package desensitize

import "regexp"

// Preset 内置规则模板，NAME 需要用户自行填写姓名
type Preset struct {
	Key              string   `json:"key"`
	Label            string   `json:"label"`
	RuleType         RuleType `json:"rule_type"`
	Pattern          string   `json:"pattern"`
	ReplacementToken string   `json:"replacement_token"`
	Tag              string   `json:"tag"`
}

const emailPattern = `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`

// Presets 内置模板
func Presets() []Preset {
	return []Preset{
		{Key: "PHONE", Label: "Phone", RuleType: RuleRegex, Pattern: `\b1\d{10}\b`, ReplacementToken: "[[PHONE]]", Tag: "电话"},
		{Key: "EMAIL", Label: "Email", RuleType: RuleRegex, Pattern: emailPattern, ReplacementToken: "[[EMAIL]]", Tag: "邮箱"},
		{Key: "ID_CN", Label: "ID Card (CN)", RuleType: RuleRegex, Pattern: `\b\d{15,18}[\dXx]\b`, ReplacementToken: "[[ID_CARD]]", Tag: "身份证"},
		{Key: "NAME", Label: "Name", RuleType: RuleLiteral, Pattern: "", ReplacementToken: "[[NAME]]", Tag: "姓名"},
	}
}

var highRisk = []*regexp.Regexp{
	regexp.MustCompile(`\b1\d{10}\b`),
	regexp.MustCompile(emailPattern),
	regexp.MustCompile(`\b\d{15,18}[\dXx]\b`),
}

// HighRisk 文本中是否仍有手机号、邮箱或证件号特征
func HighRisk(text string) bool {
	for _, re := range highRisk {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
