package matcher

import (
	"sort"
	"strings"
	"unicode"

	"cv-core-go/internal/constants"
	"cv-core-go/internal/taxonomy"
	"cv-core-go/internal/types"
)

// SkillMatcher 技能匹配器。区分两类证据：简历文本中逐字出现的显式技能，
// 和由经历角色经参考表推断出的关联技能。两个集合在产出时即保持互斥，
// 下游打分可以按证据强度区别对待。
type SkillMatcher struct {
	index     *taxonomy.Index
	maxSkills int
}

// NewSkillMatcher 创建技能匹配器。maxSkills<=0时使用默认上限。
func NewSkillMatcher(index *taxonomy.Index, maxSkills int) *SkillMatcher {
	if maxSkills <= 0 {
		maxSkills = constants.DefaultMaxSkills
	}
	return &SkillMatcher{index: index, maxSkills: maxSkills}
}

// Analyze 对合并后的经历与原始文本执行完整技能分析
func (m *SkillMatcher) Analyze(experiences []types.ExperienceEntry, rawText string) types.SkillsAnalysis {
	analysis := types.SkillsAnalysis{
		ExplicitSkills:   []string{},
		RelatedRoles:     []string{},
		JobRelatedSkills: []string{},
	}

	// 显式技能：全文对照参考表全技能词表做词边界检测
	analysis.ExplicitSkills = m.ExplicitSkills(rawText)

	// 角色解析：每段经历的role经参考表解析为归一化岗位名
	seenRoles := make(map[string]struct{})
	for _, exp := range experiences {
		if exp.Role == nil {
			continue
		}
		resolved := m.index.ResolveRole(*exp.Role)
		if resolved == "" {
			// 参考表未命中不是错误，静默得到空推断集
			continue
		}
		if _, ok := seenRoles[resolved]; ok {
			continue
		}
		seenRoles[resolved] = struct{}{}
		analysis.RelatedRoles = append(analysis.RelatedRoles, resolved)
	}
	sort.Strings(analysis.RelatedRoles)

	// 推断技能：命中岗位的技能并集，剔除已显式出现的技能
	explicitSet := make(map[string]struct{}, len(analysis.ExplicitSkills))
	for _, s := range analysis.ExplicitSkills {
		explicitSet[s] = struct{}{}
	}
	implied := make(map[string]struct{})
	for _, role := range analysis.RelatedRoles {
		for _, skill := range m.index.SkillsForRole(role) {
			if _, ok := explicitSet[skill]; ok {
				continue
			}
			implied[skill] = struct{}{}
		}
	}
	for s := range implied {
		analysis.JobRelatedSkills = append(analysis.JobRelatedSkills, s)
	}
	sort.Strings(analysis.JobRelatedSkills)
	if len(analysis.JobRelatedSkills) > m.maxSkills {
		analysis.JobRelatedSkills = analysis.JobRelatedSkills[:m.maxSkills]
	}

	return analysis
}

// ExplicitSkills 在原始文本中检测逐字出现的技能：
// 词边界敏感、大小写不敏感、去重排序、数量封顶。
func (m *SkillMatcher) ExplicitSkills(rawText string) []string {
	found := detectSkills(rawText, m.index.AllSkills())
	if len(found) > m.maxSkills {
		found = found[:m.maxSkills]
	}
	return found
}

// detectSkills 对词表中的每个技能做词边界匹配。
// "go"不应命中"google"，但"c++"等含符号的技能要按原样匹配。
func detectSkills(rawText string, vocabulary []string) []string {
	text := strings.ToLower(rawText)
	found := []string{}
	for _, skill := range vocabulary {
		if skill == "" {
			continue
		}
		if containsWithBoundary(text, skill) {
			found = append(found, skill)
		}
	}
	sort.Strings(found)
	return found
}

// containsWithBoundary 判断needle是否以词边界出现在text中。
// 边界定义：相邻字符不是字母或数字。
func containsWithBoundary(text, needle string) bool {
	offset := 0
	for {
		idx := strings.Index(text[offset:], needle)
		if idx < 0 {
			return false
		}
		idx += offset

		beforeOK := idx == 0 || !isWordChar(rune(text[idx-1]))
		after := idx + len(needle)
		afterOK := after >= len(text) || !isWordChar(rune(text[after]))
		if beforeOK && afterOK {
			return true
		}
		offset = idx + 1
	}
}

func isWordChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
