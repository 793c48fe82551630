package draft

import (
	"fmt"
	"strings"

	"github.com/jllopis/ecomentor/pkg/core"
	"github.com/jllopis/ecomentor/pkg/llm"
)

const draftRules = `- 과장 금지, 숫자와 단위 명시, 투자 권유 금지.
- 6문장 이내 핵심 서술 + 불릿 2~3개.
- 근거를 사용한 문장 끝에는 (RAG#번호 | 출처) 형식으로 표시한다.`

// Messages builds the draft prompt for one role: persona and focus in the
// system message; question, evidence and prior drafts in the user message.
func Messages(profile core.RoleProfile, question string, evidence []core.Evidence, prior []core.ContextDraft) []llm.Message {
	var sys strings.Builder
	fmt.Fprintf(&sys, "너는 %s이다.\n%s", profile.Persona, draftRules)
	for _, f := range profile.Focus {
		sys.WriteString("\n- ")
		sys.WriteString(f)
	}

	var user strings.Builder
	fmt.Fprintf(&user, "질문: %s\n", question)
	if len(evidence) > 0 {
		user.WriteString("\n근거:\n")
		for i, e := range evidence {
			fmt.Fprintf(&user, "- 근거%d: %s%s\n", i+1, strings.TrimSpace(e.Text), evidenceLabel(i+1, e))
		}
	}
	if len(prior) > 0 {
		user.WriteString("\n앞선 해석:\n")
		for _, p := range prior {
			fmt.Fprintf(&user, "- %s\n", p.String())
		}
		user.WriteString("\n앞선 해석과 겹치지 않게 자신의 관점에서 이어서 작성해줘.\n")
	}
	user.WriteString("\n요약 카드 초안을 작성해줘.")

	return []llm.Message{llm.System(sys.String()), llm.User(user.String())}
}

func evidenceLabel(n int, e core.Evidence) string {
	parts := make([]string, 0, 2)
	if e.Source != "" {
		parts = append(parts, e.Source)
	}
	if e.Date != "" {
		parts = append(parts, e.Date)
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf(" (RAG#%d | %s)", n, strings.Join(parts, ", "))
}
