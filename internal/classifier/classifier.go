// Package classifier holds the content policy applied around LLM calls: a
// pre-call check for trading-advice questions and a post-call check that
// replaces unsafe model output with a fixed refusal.
package classifier

import (
	"regexp"
)

// FallbackMessage is returned whenever a question or an answer crosses the
// trading-advice line.
const FallbackMessage = `我不能提供交易決策或進出場建議。

我的功能是幫你理解投資概念（如 OI、成交量、CVD、委託簿深度、RSI 等），以及這些概念常見的誤解與風險。

如果你願意，可以問我：
• 某個概念是什麼意思？
• 這個指標常見的誤解是什麼？
• 為什麼不能只靠這個指標做決策？

你可以輸入「選單」來看看可以問我什麼問題 😊`

type Category string

const (
	CategoryTradingQuestion Category = "trading_question"
	CategoryTradingAction   Category = "trading_action"
	CategoryRiskManagement  Category = "risk_management"
	CategoryProfitPromise   Category = "profit_promise"
	CategoryActionAdvice    Category = "action_advice"
)

// Rule maps one pattern to the policy category it enforces.
type Rule struct {
	Category Category
	Pattern  *regexp.Regexp
}

func rules(category Category, patterns ...string) []Rule {
	out := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, Rule{Category: category, Pattern: regexp.MustCompile(`(?i)` + p)})
	}
	return out
}

// QuestionRules catch obvious requests for trading decisions before any LLM call.
var QuestionRules = concat(
	rules(CategoryTradingQuestion,
		`能不能.*買`, `能不能.*賣`,
		`可以.*買`, `可以.*賣`,
		`該不該.*買`, `該不該.*賣`,
		`要不要.*買`, `要不要.*賣`,
		`現在.*做多`, `現在.*做空`,
		`適不適合.*進場`,
		`該不該.*(進場|出場)`, `要不要.*(進場|出場)`,
		`\b(can|should) i (buy|sell|long|short)\b`,
		`\bshould i (enter|exit|open|close)\b.*\bposition\b`,
	),
)

// OutputRules describe content the model must never send to a user.
var OutputRules = concat(
	rules(CategoryTradingAction,
		// \b is ASCII-only, so "可以long嗎" matches as well.
		`\b(buy|sell|long|short)\b`,
		`做多`, `做空`, `買入`, `賣出`, `買進`,
		`進場`, `出場`, `入場`, `離場`,
	),
	rules(CategoryRiskManagement,
		`停損`, `止損`, `停利`, `止盈`,
		`槓桿`, `倉位`, `加碼`, `減碼`,
	),
	rules(CategoryProfitPromise,
		`保證獲利`, `穩賺`, `必漲`, `必跌`,
		`高勝率`, `勝率.*%`,
		`一定會`, `肯定會`,
	),
	rules(CategoryActionAdvice,
		`現在可以買`, `現在可以賣`,
		`建議.*買`, `建議.*賣`,
		`應該.*買`, `應該.*賣`,
		`適合.*買`, `適合.*賣`,
	),
)

func concat(groups ...[]Rule) []Rule {
	var out []Rule
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// Match returns the first rule whose pattern occurs in text.
func Match(text string, table []Rule) (Rule, bool) {
	for _, r := range table {
		if r.Pattern.MatchString(text) {
			return r, true
		}
	}
	return Rule{}, false
}

// IsTradingQuestion reports whether the user is asking for a trading decision.
func IsTradingQuestion(text string) bool {
	_, ok := Match(text, QuestionRules)
	return ok
}

// CheckOutputSafety returns the text unchanged when it is safe, otherwise
// false and FallbackMessage.
func CheckOutputSafety(text string) (bool, string) {
	if _, ok := Match(text, OutputRules); ok {
		return false, FallbackMessage
	}
	return true, text
}
