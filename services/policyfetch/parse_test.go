package policyfetch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseListPage(t *testing.T) {
	page := `<html><body>
		<ul class="news_box">
			<li><a href="/zhengce/content/2025-07/25/content_1.htm">国务院关于促进制造业高质量发展的意见</a><span>2025-07-25</span></li>
			<li><a href="./202507/t20250724_2.html">财政部关于延续实施小微企业减税政策的公告</a><span>2025年7月24日</span></li>
			<li><a href="#">下一页</a></li>
			<li><a href="javascript:void(0)">更多</a></li>
		</ul>
	</body></html>`

	items, err := parseListPage(strings.NewReader(page), "https://www.gov.cn/zhengce/zuixin/")
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "国务院关于促进制造业高质量发展的意见", items[0].Title)
	assert.Equal(t, "https://www.gov.cn/zhengce/content/2025-07/25/content_1.htm", items[0].URL)
	assert.Equal(t, "2025-07-25", items[0].Date)

	assert.Equal(t, "https://www.gov.cn/zhengce/zuixin/202507/t20250724_2.html", items[1].URL)
	assert.Equal(t, "2025-07-24", items[1].Date)
}

func TestParseListPageEmptyBody(t *testing.T) {
	items, err := parseListPage(strings.NewReader("<html><body></body></html>"), "https://example.gov.cn/")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestShouldSkipTitle(t *testing.T) {
	assert.True(t, shouldSkipTitle("下一页"))
	assert.True(t, shouldSkipTitle("更多>>"))
	assert.True(t, shouldSkipTitle("通知"), "short anchors are chrome, not headlines")
	assert.False(t, shouldSkipTitle("国务院关于促进民营经济发展的若干意见"))
}

func TestExtractDateFromURL(t *testing.T) {
	assert.Equal(t, "2025-07-25", extractDateFromURL("https://www.gov.cn/zhengce/content/2025-07/25/content_1.htm"))
	assert.Equal(t, "2025-07-24", extractDateFromURL("https://www.mof.gov.cn/zcfb/t20250724_123.html"))
	assert.Equal(t, "2025-07-23", extractDateFromURL("https://www.ndrc.gov.cn/xxgk/20250723/page.html"))
	assert.Equal(t, "", extractDateFromURL("https://www.gov.cn/zhengce/index.htm"))
}

func TestExtractDateFromText(t *testing.T) {
	assert.Equal(t, "2025-07-25", extractDateFromText("发布时间：2025-07-25 10:00"))
	assert.Equal(t, "2025-07-05", extractDateFromText("2025年7月5日发布"))
	assert.Equal(t, "", extractDateFromText("暂无日期"))
}

func TestClassifyPolicyType(t *testing.T) {
	cases := map[string]string{
		"央行决定下调存款准备金率0.5个百分点": "货币政策",
		"财政部发布专项债管理办法":        "财政政策",
		"证监会对内幕交易作出处罚决定":      "监管政策",
		"国务院关税税则委员会调整进口关税":    "贸易政策",
		"关于支持新能源汽车产业发展的通知":    "产业政策",
		"国务院办公厅印发工作要点":        "其他政策",
	}
	for title, want := range cases {
		assert.Equal(t, want, classifyPolicyType(title), title)
	}
}

func TestExtractDepartment(t *testing.T) {
	assert.Equal(t, "中国人民银行", extractDepartment("人民银行开展公开市场操作", "国务院"))
	assert.Equal(t, "证监会", extractDepartment("证监会发布新规", "国务院"))
	assert.Equal(t, "财政部", extractDepartment("关于减税的公告", "财政部"))
}

func TestDeterminePolicyLevel(t *testing.T) {
	assert.Equal(t, "国家级", determinePolicyLevel("国务院关于深化改革的意见", "国务院"))
	assert.Equal(t, "地方级", determinePolicyLevel("广东省产业扶持办法", "国家发展改革委"))
	assert.Equal(t, "部委级", determinePolicyLevel("关于规范市场秩序的通知", "国家发展改革委"))
}

func TestAssessImpactLevel(t *testing.T) {
	assert.Equal(t, "高", assessImpactLevel("央行宣布全面降准"))
	assert.Equal(t, "低", assessImpactLevel("关于某某事项的批复"))
	assert.Equal(t, "中", assessImpactLevel("关于开展专项检查的通知"))
}
