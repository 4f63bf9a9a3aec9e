package taxonomy

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

// 参考表文件命名约定，与数据目录中的导出文件保持一致
const (
	csvSuffix  = "_job_roles_skills.csv"
	xlsxSuffix = "_job_roles_skills.xlsx"
)

// Index 岗位→技能参考表索引。启动时从数据目录一次性加载所有
// *_job_roles_skills.csv / *_job_roles_skills.xlsx 文件，加载后不可变，
// 并发读取安全。
type Index struct {
	roleSkills map[string][]string // 归一化岗位名 → 去重排序后的技能列表
	titles     []string            // 全部岗位名（归一化、排序）
	skills     []string            // 全部技能词表（归一化、排序）
}

// LoadDir 从目录加载全部参考表文件并构建索引。
// 目录中不存在任何参考表文件时返回错误，单个文件模式错误同样拒绝，
// 避免半加载的词表悄悄削弱技能检测。
func LoadDir(dataDir string) (*Index, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("读取参考表目录失败: %w", err)
	}

	roleSkillSets := make(map[string]map[string]struct{})
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		path := filepath.Join(dataDir, entry.Name())

		var rows [][2]string
		switch {
		case strings.HasSuffix(name, csvSuffix):
			rows, err = readCSVTable(path)
		case strings.HasSuffix(name, xlsxSuffix):
			rows, err = readXLSXTable(path)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("加载参考表 %s 失败: %w", entry.Name(), err)
		}

		for _, row := range rows {
			title := NormalizeTerm(row[0])
			if title == "" {
				continue
			}
			set, ok := roleSkillSets[title]
			if !ok {
				set = make(map[string]struct{})
				roleSkillSets[title] = set
			}
			for _, s := range strings.Split(row[1], ",") {
				if skill := NormalizeTerm(s); skill != "" {
					set[skill] = struct{}{}
				}
			}
		}
		loaded++
	}

	if loaded == 0 {
		return nil, fmt.Errorf("目录 %s 中未找到任何 *%s / *%s 参考表文件", dataDir, csvSuffix, xlsxSuffix)
	}

	return newIndex(roleSkillSets), nil
}

func newIndex(roleSkillSets map[string]map[string]struct{}) *Index {
	idx := &Index{
		roleSkills: make(map[string][]string, len(roleSkillSets)),
	}
	allSkills := make(map[string]struct{})
	for title, set := range roleSkillSets {
		skills := make([]string, 0, len(set))
		for s := range set {
			skills = append(skills, s)
			allSkills[s] = struct{}{}
		}
		sort.Strings(skills)
		idx.roleSkills[title] = skills
		idx.titles = append(idx.titles, title)
	}
	sort.Strings(idx.titles)
	for s := range allSkills {
		idx.skills = append(idx.skills, s)
	}
	sort.Strings(idx.skills)
	return idx
}

// SkillsForRole 返回岗位对应的技能列表。先尝试归一化后的精确匹配，
// 再做双向包含回退："senior backend engineer" 能命中 "backend engineer"。
// 未命中返回空切片，永不报错。
func (idx *Index) SkillsForRole(role string) []string {
	norm := NormalizeTerm(role)
	if norm == "" {
		return nil
	}
	if skills, ok := idx.roleSkills[norm]; ok {
		return append([]string(nil), skills...)
	}

	// 包含回退：收集所有双向包含命中的岗位，合并去重
	merged := make(map[string]struct{})
	for _, title := range idx.titles {
		if containsTerm(norm, title) || containsTerm(title, norm) {
			for _, s := range idx.roleSkills[title] {
				merged[s] = struct{}{}
			}
		}
	}
	if len(merged) == 0 {
		return nil
	}
	skills := make([]string, 0, len(merged))
	for s := range merged {
		skills = append(skills, s)
	}
	sort.Strings(skills)
	return skills
}

// ResolveRole 返回岗位在参考表中命中的岗位名（精确优先，其次双向包含），
// 未命中返回空字符串。
func (idx *Index) ResolveRole(role string) string {
	norm := NormalizeTerm(role)
	if norm == "" {
		return ""
	}
	if _, ok := idx.roleSkills[norm]; ok {
		return norm
	}
	for _, title := range idx.titles {
		if containsTerm(norm, title) || containsTerm(title, norm) {
			return title
		}
	}
	return ""
}

// AllTitles 返回全部岗位名（归一化、排序，调用方不得修改）
func (idx *Index) AllTitles() []string {
	return idx.titles
}

// AllSkills 返回全部技能词表（归一化、排序，调用方不得修改）
func (idx *Index) AllSkills() []string {
	return idx.skills
}

// RoleCount 返回索引中的岗位数
func (idx *Index) RoleCount() int {
	return len(idx.roleSkills)
}

// NormalizeTerm 统一岗位/技能词条的形态：小写、折叠空白、去掉首尾标点
func NormalizeTerm(term string) string {
	term = strings.ToLower(strings.TrimSpace(term))
	term = strings.Trim(term, ".,;:!?\"'()[]")
	return strings.Join(strings.Fields(term), " ")
}

// containsTerm 词边界敏感的包含判断，避免 "java" 命中 "javascript"
func containsTerm(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	idx := strings.Index(haystack, needle)
	for idx >= 0 {
		beforeOK := idx == 0 || haystack[idx-1] == ' '
		after := idx + len(needle)
		afterOK := after == len(haystack) || haystack[after] == ' '
		if beforeOK && afterOK {
			return true
		}
		next := strings.Index(haystack[idx+1:], needle)
		if next < 0 {
			break
		}
		idx += 1 + next
	}
	return false
}

// readCSVTable 读取CSV参考表，要求表头包含 job_title 与 skills 两列
func readCSVTable(path string) ([][2]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("读取表头失败: %w", err)
	}
	titleCol, skillsCol, err := locateColumns(header)
	if err != nil {
		return nil, err
	}

	var rows [][2]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("读取数据行失败: %w", err)
		}
		if len(record) <= titleCol || len(record) <= skillsCol {
			continue
		}
		rows = append(rows, [2]string{record[titleCol], record[skillsCol]})
	}
	return rows, nil
}

// readXLSXTable 读取XLSX参考表首个工作表，表头约定与CSV相同
func readXLSXTable(path string) ([][2]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("工作簿不包含工作表")
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("读取工作表失败: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("工作表为空")
	}
	titleCol, skillsCol, err := locateColumns(records[0])
	if err != nil {
		return nil, err
	}

	var rows [][2]string
	for _, record := range records[1:] {
		if len(record) <= titleCol || len(record) <= skillsCol {
			continue
		}
		rows = append(rows, [2]string{record[titleCol], record[skillsCol]})
	}
	return rows, nil
}

// locateColumns 在表头中定位 job_title 与 skills 列，列名折叠空白后比较
func locateColumns(header []string) (titleCol, skillsCol int, err error) {
	titleCol, skillsCol = -1, -1
	for i, h := range header {
		switch strings.ReplaceAll(NormalizeTerm(h), " ", "_") {
		case "job_title":
			titleCol = i
		case "skills":
			skillsCol = i
		}
	}
	if titleCol < 0 || skillsCol < 0 {
		return 0, 0, fmt.Errorf("表头缺少 job_title / skills 列: %v", header)
	}
	return titleCol, skillsCol, nil
}
