package router

import (
	"regexp"
	"strings"

	"github.com/jllopis/ecomentor/pkg/core"
)

// Rule is one entry of the heuristic cascade. It matches when every
// pattern in Match is found and no pattern in Exclude is.
type Rule struct {
	ID          string
	Description string
	Roles       core.RolePath
	Match       []*regexp.Regexp
	Exclude     []*regexp.Regexp
}

// Matches reports whether the lower-cased question s satisfies the rule.
func (r Rule) Matches(s string) bool {
	if len(r.Match) == 0 {
		return false
	}
	for _, re := range r.Match {
		if !re.MatchString(s) {
			return false
		}
	}
	for _, re := range r.Exclude {
		if re.MatchString(s) {
			return false
		}
	}
	return true
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

const namedCompany = `삼성|하이닉스|sk|lg|현대|네이버|카카오|포스코|엔비디아|테슬라|애플|apple|마이크로소프트`

var (
	macroOnly  = core.RolePath{core.RoleMacro}
	firmOnly   = core.RolePath{core.RoleFirm}
	houseOnly  = core.RolePath{core.RoleHousehold}
	macroFirm  = core.RolePath{core.RoleMacro, core.RoleFirm}
	macroHouse = core.RolePath{core.RoleMacro, core.RoleHousehold}
	firmHouse  = core.RolePath{core.RoleFirm, core.RoleHousehold}
	allRoles   = core.FullPath()
)

// Rules is the heuristic cascade, evaluated top to bottom.
var Rules = []Rule{
	{
		ID:          "company-market-impact",
		Description: "company results moving the market",
		Roles:       macroFirm,
		Match:       compile(`삼성|하이닉스|기업|회사|종목|실적`, `코스피|코스닥|지수|시장`, `영향|미치|변동|흐름`),
	},
	{
		ID:          "market-contribution",
		Description: "companies driving an index",
		Roles:       macroFirm,
		Match:       compile(`코스피|코스닥|지수`, `돌파|기여|영향|올리|끌어올리|주도`, `기업|회사|종목`),
	},
	{
		ID:          "industry-investment",
		Description: "industry outlook and investment strategy",
		Roles:       allRoles,
		Match:       compile(`산업|업종|섹터|분야`, `전망|분석|트렌드|성장`, `투자|방법|전략`),
	},
	{
		ID:          "macro-market-impact",
		Description: "macro conditions moving the market, no company",
		Roles:       macroOnly,
		Match:       compile(`금리|환율|정책|경기|물가`, `주식|시장|증시|코스피`, `영향|미치`),
		Exclude:     compile(`기업`),
	},
	{
		ID:          "portfolio-strategy",
		Description: "portfolio construction",
		Roles:       macroHouse,
		Match:       compile(`포트폴리오|자산배분|분산투자`, `구성|방법|전략`),
	},
	{
		ID:          "general-investment",
		Description: "open-ended investment question",
		Roles:       allRoles,
		Match:       compile(`어떤|어디|어느`, `기업|회사|종목`, `투자|좋을|추천`),
	},
	{
		ID:          "gdp-definition",
		Description: "GDP concept",
		Roles:       macroOnly,
		Match:       compile(`gdp|국내.*총생산`),
	},
	{
		ID:          "company-analysis",
		Description: "named company analysis without an investment decision",
		Roles:       firmOnly,
		Match:       compile(namedCompany, `실적|전망|분석|재무|매출|영업이익`),
		Exclude:     compile(`투자|방법|전략|추천|좋을`),
	},
	{
		ID:          "company-investment",
		Description: "investment decision on a named company",
		Roles:       firmHouse,
		Match:       compile(namedCompany, `투자|포트폴리오|리밸런싱|매수|매도|분산투자|자산배분|전략`),
	},
	{
		ID:          "household-finance",
		Description: "household finance products",
		Roles:       houseOnly,
		Match:       compile(`대출|적금|예금|보험|연금|세금|저축|카드|신용`),
	},
	{
		ID:          "macro-economy",
		Description: "macro indicators",
		Roles:       macroOnly,
		Match:       compile(`경기|성장률|물가|금리|환율|실업|인플레이션|디플레이션`),
	},
}

// MatchRule returns the first rule in rules that matches question.
func MatchRule(rules []Rule, question string) (Rule, bool) {
	s := strings.ToLower(question)
	for _, r := range rules {
		if r.Matches(s) {
			return r, true
		}
	}
	return Rule{}, false
}

// Heuristic routes question with the cascade. When no rule matches the
// preferred roles are used, and without preference the full path. The
// result is always an allowed path.
func Heuristic(rules []Rule, question string, prefer []core.Role) (core.RolePath, string) {
	if r, ok := MatchRule(rules, question); ok {
		return core.NormalizePath(r.Roles), r.ID
	}
	if seed := generating(prefer); len(seed) > 0 {
		return core.NormalizePath(seed), "prefer"
	}
	return core.FullPath(), "default"
}

func generating(roles []core.Role) []core.Role {
	out := make([]core.Role, 0, len(roles))
	for _, r := range roles {
		if r.IsGenerating() {
			out = append(out, r)
		}
	}
	return out
}
