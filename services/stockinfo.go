package services

import "strings"

// wellKnownNames maps frequently charted codes to display names so the page
// title is readable without an extra lookup round-trip.
var wellKnownNames = map[string]string{
	"000001.SH": "上证指数",
	"399001.SZ": "深证成指",
	"399006.SZ": "创业板指",
	"600519.SH": "贵州茅台",
	"601318.SH": "中国平安",
	"600036.SH": "招商银行",
	"601398.SH": "工商银行",
	"600900.SH": "长江电力",
	"601857.SH": "中国石油",
	"000002.SZ": "万科A",
	"000333.SZ": "美的集团",
	"000858.SZ": "五粮液",
	"002594.SZ": "比亚迪",
	"300750.SZ": "宁德时代",
	"510300.SH": "沪深300ETF",
	"159915.SZ": "创业板ETF",
}

// StockDisplayName resolves a human-readable name for a code, falling back
// to the code itself.
func StockDisplayName(code string) string {
	if name, ok := wellKnownNames[strings.ToUpper(code)]; ok {
		return name
	}
	return code
}

// NormalizeStockCode uppercases and completes a bare six-digit code with its
// exchange suffix: 60xxxx/68xxxx/51xxxx on Shanghai, the rest on Shenzhen.
func NormalizeStockCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || strings.Contains(code, ".") {
		return code
	}
	if len(code) != 6 {
		return code
	}
	switch code[0] {
	case '6', '5':
		return code + ".SH"
	default:
		return code + ".SZ"
	}
}
