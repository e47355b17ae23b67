package policyfetch

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// rawItem is one anchor extracted from a listing page before classification.
type rawItem struct {
	Title string
	URL   string
	Date  string // YYYY-MM-DD, empty when no date could be extracted yet
}

var (
	isoDateRe  = regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`)
	cnDateRe   = regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日`)
	slashURLRe = regexp.MustCompile(`/(\d{4})-(\d{2})/(\d{2})/`)
	// packed YYYYMMDD segments, e.g. /20250723/ or t20250724_123.html
	packedRe = regexp.MustCompile(`(?:^|[/_t])(\d{8})(?:[/_.]|$)`)
)

// navigation chrome and boilerplate anchors that appear on every listing page
var skipTitles = []string{
	"首页", "上一页", "下一页", "尾页", "更多", "更多>>", "详细", "查看",
	"English", "登录", "注册", "网站地图", "关于我们", "联系我们", "版权",
	"无障碍", "政务服务", "互动交流", "返回顶部",
}

// parseListPage extracts candidate policy anchors from a listing page.
// The reader is capped at 1MB; government listing pages are far smaller and
// the cap keeps a misbehaving upstream from ballooning memory.
func parseListPage(r io.Reader, pageURL string) ([]rawItem, error) {
	doc, err := html.Parse(io.LimitReader(r, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}

	var items []rawItem
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if item, ok := anchorToItem(n, base); ok {
				items = append(items, item)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return items, nil
}

func anchorToItem(n *html.Node, base *url.URL) (rawItem, bool) {
	var href string
	for _, attr := range n.Attr {
		if attr.Key == "href" {
			href = strings.TrimSpace(attr.Val)
			break
		}
	}
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return rawItem{}, false
	}

	title := strings.TrimSpace(nodeText(n))
	if shouldSkipTitle(title) {
		return rawItem{}, false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return rawItem{}, false
	}
	abs := base.ResolveReference(ref).String()

	item := rawItem{Title: title, URL: abs}
	if d := extractDateFromURL(abs); d != "" {
		item.Date = d
	} else if d := extractDateFromText(siblingText(n)); d != "" {
		// listing rows usually carry the publish date next to the anchor
		item.Date = d
	} else if d := extractDateFromText(title); d != "" {
		item.Date = d
	}
	return item, true
}

// nodeText concatenates the text content of a node's subtree.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// siblingText collects text of the anchor's parent row, which is where list
// templates put the publish date.
func siblingText(n *html.Node) string {
	if n.Parent == nil {
		return ""
	}
	return nodeText(n.Parent)
}

// shouldSkipTitle filters navigation chrome and anchors too short to be a
// policy headline.
func shouldSkipTitle(title string) bool {
	if len([]rune(title)) < 8 {
		return true
	}
	for _, skip := range skipTitles {
		if strings.Contains(title, skip) {
			return true
		}
	}
	return false
}

// extractDateFromURL pulls the publish date embedded in government article
// URLs, e.g. /zhengce/content/2025-07/25/ or /202507/25/.
func extractDateFromURL(u string) string {
	if m := slashURLRe.FindStringSubmatch(u); m != nil {
		return fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3])
	}
	if m := packedRe.FindStringSubmatch(u); m != nil {
		if t, err := time.Parse("20060102", m[1]); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

// extractDateFromText finds the first ISO or Chinese-style date in a string.
func extractDateFromText(s string) string {
	if m := isoDateRe.FindStringSubmatch(s); m != nil {
		return fmt.Sprintf("%s-%s-%s", m[1], pad2(m[2]), pad2(m[3]))
	}
	if m := cnDateRe.FindStringSubmatch(s); m != nil {
		return fmt.Sprintf("%s-%s-%s", m[1], pad2(m[2]), pad2(m[3]))
	}
	return ""
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// classification keyword tables, checked in order; first hit wins
var policyTypeKeywords = []struct {
	eventType string
	keywords  []string
}{
	{"货币政策", []string{"货币", "降准", "降息", "利率", "央行", "人民银行", "LPR", "存款准备金", "公开市场"}},
	{"财政政策", []string{"财政", "税收", "减税", "退税", "专项债", "国债", "预算", "补贴", "财税"}},
	{"监管政策", []string{"监管", "证监会", "银保监", "处罚", "规范", "整治", "合规", "备案", "审查"}},
	{"贸易政策", []string{"关税", "进出口", "贸易", "外贸", "出口", "进口", "自贸"}},
	{"产业政策", []string{"产业", "制造业", "新能源", "半导体", "汽车", "数字经济", "人工智能", "高质量发展", "专精特新"}},
}

// classifyPolicyType buckets a headline into a coarse policy category.
func classifyPolicyType(title string) string {
	for _, entry := range policyTypeKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(title, kw) {
				return entry.eventType
			}
		}
	}
	return "其他政策"
}

var departmentKeywords = []struct {
	department string
	keywords   []string
}{
	{"中国人民银行", []string{"人民银行", "央行"}},
	{"财政部", []string{"财政部"}},
	{"国家发展改革委", []string{"发展改革委", "发改委"}},
	{"证监会", []string{"证监会"}},
	{"国务院", []string{"国务院"}},
	{"商务部", []string{"商务部"}},
	{"工业和信息化部", []string{"工信部", "工业和信息化部"}},
}

// extractDepartment identifies the issuing department from the headline,
// defaulting to the source's own department.
func extractDepartment(title, defaultDept string) string {
	for _, entry := range departmentKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(title, kw) {
				return entry.department
			}
		}
	}
	return defaultDept
}

// determinePolicyLevel grades the administrative level of the policy.
func determinePolicyLevel(title, department string) string {
	if strings.Contains(title, "中共中央") || strings.Contains(title, "国务院") ||
		department == "国务院" {
		return "国家级"
	}
	// "市" alone is not used as a marker: it would catch 市场 headlines
	for _, marker := range []string{"省", "自治区", "地方"} {
		if strings.Contains(title, marker) {
			return "地方级"
		}
	}
	return "部委级"
}

// assessImpactLevel estimates how market-moving a policy headline is.
func assessImpactLevel(title string) string {
	for _, kw := range []string{"重大", "全面", "深化改革", "降准", "降息", "国务院", "中共中央", "印发"} {
		if strings.Contains(title, kw) {
			return "高"
		}
	}
	for _, kw := range []string{"批复", "答复", "函", "名单", "公示"} {
		if strings.Contains(title, kw) {
			return "低"
		}
	}
	return "中"
}
