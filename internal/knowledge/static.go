package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Provider 定义知识库检索的通用接口。
type Provider interface {
	Query(input string) []Snippet
}

// Snippet 描述可供大模型引用的一段知识。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
}

// StaticProvider 通过关键词匹配提供静态知识检索能力。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 文件加载知识条目，并追加内置条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(append(entries, Builtin()...), maxResults), nil
}

// Query 返回与输入匹配的条目，没有关键词的条目总是匹配。
func (p *StaticProvider) Query(input string) []Snippet {
	if p == nil {
		return nil
	}

	input = strings.ToLower(strings.TrimSpace(input))

	results := make([]Snippet, 0, p.maxResults)
	for _, item := range p.items {
		if matches(item, input) {
			results = append(results, item)
			if len(results) >= p.maxResults {
				break
			}
		}
	}
	return results
}

func matches(snippet Snippet, input string) bool {
	if len(snippet.Keywords) == 0 {
		return true
	}
	for _, keyword := range snippet.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if strings.Contains(input, normalized) {
			return true
		}
	}
	return false
}

// Render 把条目格式化为可追加到系统提示后的参考说明。
func Render(snippets []Snippet) string {
	var b strings.Builder
	for _, s := range snippets {
		if strings.TrimSpace(s.Title) == "" && strings.TrimSpace(s.Content) == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Reference notes:\n")
		}
		fmt.Fprintf(&b, "- %s: %s\n", strings.TrimSpace(s.Title), strings.TrimSpace(s.Content))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Builtin 返回关于证书合约的内置条目。
func Builtin() []Snippet {
	return []Snippet{
		{
			Title:    "University role",
			Content:  "Only accounts holding UNIVERSITY_ROLE may call mintCertificate. Use check_university_role before minting when unsure.",
			Keywords: []string{"mint", "role", "university"},
		},
		{
			Title:    "Admin actions",
			Content:  "addUniversity grants UNIVERSITY_ROLE and requires the contract admin role.",
			Keywords: []string{"add university", "admin"},
		},
		{
			Title:    "Soulbound tokens",
			Content:  "Certificates are soulbound tokens; they cannot be transferred after minting, so confirm the student address first.",
			Keywords: []string{"sbt", "soulbound", "student"},
		},
		{
			Title:    "Scanned certificates",
			Content:  "mint_scanned_certificate takes the document hash as ipfs_hash and the scan hash as scan_hash.",
			Keywords: []string{"scan"},
		},
	}
}

// Ensure StaticProvider 实现 Provider 接口。
var _ Provider = (*StaticProvider)(nil)
