package scoring

import (
	"strings"

	"cv-core-go/internal/taxonomy"
	"cv-core-go/internal/types"
)

// 三个子分量均为独立、确定性的纯函数，[0,1]取值，
// 权重组合在Engine中完成，便于单独调整与测试。

// SkillsOverlap 技能覆盖度：候选人合并技能与岗位技能列表的交集规模，
// 以岗位技能数归一化。岗位技能为空时由Engine在调用前拦截。
func SkillsOverlap(candidateSkills, jobSkills []string) float64 {
	if len(jobSkills) == 0 {
		return 0
	}
	candidateSet := make(map[string]struct{}, len(candidateSkills))
	for _, s := range candidateSkills {
		candidateSet[taxonomy.NormalizeTerm(s)] = struct{}{}
	}
	jobSet := make(map[string]struct{}, len(jobSkills))
	for _, s := range jobSkills {
		if norm := taxonomy.NormalizeTerm(s); norm != "" {
			jobSet[norm] = struct{}{}
		}
	}
	if len(jobSet) == 0 {
		return 0
	}
	overlap := 0
	for s := range jobSet {
		if _, ok := candidateSet[s]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(len(jobSet))
}

// ExperienceFit 经历契合度：经历角色与岗位标题/描述的词元对齐程度。
// 每段经历取角色词元在岗位文本中的命中率，整体取最高的一段。
// 没有任何带角色的经历时为0。
func ExperienceFit(experiences []types.ExperienceEntry, job *types.JobRequirement) float64 {
	jobTokens := tokenSet(job.JobTitle + " " + job.JobDescription)
	if len(jobTokens) == 0 {
		return 0
	}

	best := 0.0
	for _, exp := range experiences {
		if exp.Role == nil {
			continue
		}
		roleTokens := tokenList(*exp.Role)
		if len(roleTokens) == 0 {
			continue
		}
		hits := 0
		for _, tok := range roleTokens {
			if _, ok := jobTokens[tok]; ok {
				hits++
			}
		}
		if fit := float64(hits) / float64(len(roleTokens)); fit > best {
			best = fit
		}
	}
	return best
}

// 学位等级，用于教育契合度的档位判断
var degreeLevels = []struct {
	markers []string
	level   int
}{
	{[]string{"phd", "ph.d", "doctor", "doctorate", "博士"}, 4},
	{[]string{"master", "msc", "m.sc", "mba", "硕士"}, 3},
	{[]string{"bachelor", "bsc", "b.sc", "beng", "b.eng", "ba ", "bs ", "学士", "本科"}, 2},
	{[]string{"diploma", "associate", "大专", "专科"}, 1},
}

func degreeLevel(degree string) int {
	d := strings.ToLower(degree)
	for _, dl := range degreeLevels {
		for _, marker := range dl.markers {
			if strings.Contains(d, marker) {
				return dl.level
			}
		}
	}
	return 0
}

// EducationFit 教育契合度：学位档位贡献0.6（本科及以上满档），
// 专业词元与岗位文本的对齐贡献0.4。无教育记录为0。
func EducationFit(education []types.EducationEntry, job *types.JobRequirement) float64 {
	if len(education) == 0 {
		return 0
	}
	jobTokens := tokenSet(job.JobTitle + " " + job.JobDescription + " " + job.JobSkills)

	best := 0.0
	for _, edu := range education {
		score := 0.0
		if edu.Degree != nil {
			level := degreeLevel(*edu.Degree)
			if level >= 2 {
				score += 0.6
			} else if level == 1 {
				score += 0.3
			}

			// 专业相关性：学位描述词元与岗位文本的命中率
			tokens := tokenList(*edu.Degree)
			if len(tokens) > 0 && len(jobTokens) > 0 {
				hits := 0
				for _, tok := range tokens {
					if _, ok := jobTokens[tok]; ok {
						hits++
					}
				}
				score += 0.4 * float64(hits) / float64(len(tokens))
			}
		}
		if score > best {
			best = score
		}
	}
	if best > 1 {
		best = 1
	}
	return best
}

// 对齐判断中忽略的常见填充词
var stopTokens = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "in": {}, "and": {}, "or": {},
	"for": {}, "with": {}, "to": {}, "at": {}, "on": {},
	"senior": {}, "junior": {}, "lead": {}, "principal": {}, "staff": {}, "intern": {},
}

func tokenList(text string) []string {
	var tokens []string
	for _, f := range strings.Fields(strings.ToLower(text)) {
		tok := strings.Trim(f, ".,;:!?\"'()[]/")
		if tok == "" {
			continue
		}
		if _, ok := stopTokens[tok]; ok {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenList(text) {
		set[tok] = struct{}{}
	}
	return set
}
