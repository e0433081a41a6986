// Package textload parses heterogeneous text files into a uniform sequence of
// records ready for speech synthesis.
//
// This package implements the ingestion stage of the batch pipeline, following
// Go coding standards and design principles for explicit behavior and
// maintainable code.
package textload

import (
	"regexp"
	"strconv"
	"strings"
)

// Regex patterns for symbol normalization.
const (
	percentPattern   = `(\d+(?:\.\d+)?)%`
	rangeDashPattern = `(\d+)-(\d+)`
)

// rangeConnector joins the two ends of a spoken numeric range.
const rangeConnector = "到"

// percentPrefix is the spoken-language prefix for percentages.
const percentPrefix = "百分之"

// chineseDigits maps small integers to their spoken form. Larger values keep
// their digits under the percentPrefix fallback.
var chineseDigits = map[int]string{
	0:  "零",
	1:  "一",
	2:  "二",
	3:  "三",
	4:  "四",
	5:  "五",
	6:  "六",
	7:  "七",
	8:  "八",
	9:  "九",
	10: "十",
}

// symbolReplacements maps mathematical and comparison symbols to their spoken
// Chinese equivalents. Applied as a single pass after range conversion.
var symbolReplacements = []string{
	"<", "小于",
	"＜", "小于",
	">", "大于",
	"＞", "大于",
	"≤", "小于等于",
	"≥", "大于等于",
	"=", "等于",
	"≠", "不等于",
	"≈", "约等于",
	"±", "正负",
	"×", "乘以",
	"÷", "除以",
	"∞", "无穷大",
	"∑", "求和",
	"∏", "求积",
	"∫", "积分",
	"∂", "偏微分",
	"∇", "梯度",
	"√", "平方根",
	"∛", "立方根",
	"℃", "摄氏度",
	"℉", "华氏度",
	"°", "度",
	"′", "分",
	"″", "秒",
	"％", percentPrefix,
	"‰", "千分之",
	"‱", "万分之",
}

// symbolTable holds the compiled patterns and replacer for the symbol
// normalization pass. Compiled once and shared by every parser.
type symbolTable struct {
	rangePattern   *regexp.Regexp
	percentRegexp  *regexp.Regexp
	symbolReplacer *strings.Replacer
}

func newSymbolTable() *symbolTable {
	return &symbolTable{
		rangePattern:   regexp.MustCompile(rangeDashPattern),
		percentRegexp:  regexp.MustCompile(percentPattern),
		symbolReplacer: strings.NewReplacer(symbolReplacements...),
	}
}

// convert applies the full symbol normalization pass: numeric ranges first,
// then the fixed symbol table, then percentage expressions. The output is a
// fixed point of the pass, so re-applying it never double-translates already
// converted text.
func (s *symbolTable) convert(text string) string {
	converted := s.rangePattern.ReplaceAllString(text, "${1}"+rangeConnector+"$2")

	converted = s.symbolReplacer.Replace(converted)

	converted = s.percentRegexp.ReplaceAllStringFunc(converted, func(match string) string {
		number := strings.TrimSuffix(match, "%")

		return spokenPercent(number)
	})

	return converted
}

// spokenPercent renders "N%" in its spoken form. Small integers (0-10) map to
// Chinese numerals; everything else keeps its digits after the prefix.
func spokenPercent(number string) string {
	if !strings.Contains(number, ".") {
		value, err := strconv.Atoi(number)
		if err == nil {
			if digit, ok := chineseDigits[value]; ok {
				return percentPrefix + digit
			}
		}
	}

	return percentPrefix + number
}
