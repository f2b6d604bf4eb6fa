// Package symbol 在标准 symbol（RELIANCE.NS / NIFTY 50）和各数据源自己的代码之间转换。
// 纯函数，没有状态，没有 I/O。
package symbol

import (
	"regexp"
	"strings"
)

// index 一个指数的几种写法
type index struct {
	Canonical string   // 对外/落库用的名字
	Provider  string   // 券商代码
	REST      string   // REST 行情源用的代码
	Scrape    string   // 网页抓取路径
	Aliases   []string // 其它能识别的写法（大写）
}

var indices = []index{
	{"NIFTY 50", "NSE:NIFTY50-INDEX", "^NSEI", "NIFTY_50:INDEXNSE", []string{"^NSEI", "NIFTY50"}},
	{"SENSEX", "BSE:SENSEX-INDEX", "^BSESN", "SENSEX:INDEXBOM", []string{"^BSESN"}},
	{"NIFTY BANK", "NSE:NIFTYBANK-INDEX", "^NSEBANK", "NIFTY_BANK:INDEXNSE", []string{"^NSEBANK", "NSEBANK", "NIFTYBANK"}},
	{"NIFTY IT", "NSE:NIFTYIT-INDEX", "^CNXIT", "NIFTY_IT:INDEXNSE", []string{"^CNXIT", "NIFTYIT"}},
	{"NIFTY PHARMA", "NSE:NIFTYPHARMA-INDEX", "^CNXPHARMA", "NIFTY_PHARMA:INDEXNSE", []string{"^CNXPHARMA", "NIFTYPHARMA"}},
	{"NIFTY AUTO", "NSE:NIFTYAUTO-INDEX", "^CNXAUTO", "NIFTY_AUTO:INDEXNSE", []string{"^CNXAUTO", "NIFTYAUTO"}},
	{"NIFTY FMCG", "NSE:NIFTYFMCG-INDEX", "^CNXFMCG", "NIFTY_FMCG:INDEXNSE", []string{"^CNXFMCG", "NIFTYFMCG"}},
	{"NIFTY METAL", "NSE:NIFTYMETAL-INDEX", "^CNXMETAL", "NIFTY_METAL:INDEXNSE", []string{"^CNXMETAL", "NIFTYMETAL"}},
	{"NIFTY REALTY", "NSE:NIFTYREALTY-INDEX", "^CNXREALTY", "NIFTY_REALTY:INDEXNSE", []string{"^CNXREALTY", "NIFTYREALTY"}},
	{"NIFTY ENERGY", "NSE:NIFTYENERGY-INDEX", "^CNXENERGY", "NIFTY_ENERGY:INDEXNSE", []string{"^CNXENERGY", "NIFTYENERGY"}},
	{"NIFTY MIDCAP 50", "NSE:NIFTYMIDCAP50-INDEX", "^NSEMDCP50", "NIFTY_MIDCAP_50:INDEXNSE", []string{"^NSEMDCP50", "NIFTYMIDCAP50"}},
}

// 品牌改名后的别名
var brandAliases = map[string]string{
	"ETERNAL": "ZOMATO.NS",
}

var (
	byCanonical = map[string]*index{}
	byName      = map[string]*index{} // provider 代码 / 别名 / canonical 都能查到
)

func init() {
	for i := range indices {
		ix := &indices[i]
		byCanonical[ix.Canonical] = ix
		byName[ix.Canonical] = ix
		byName[ix.Provider] = ix
		for _, a := range ix.Aliases {
			byName[a] = ix
		}
	}
}

var providerRe = regexp.MustCompile(`^(NSE|BSE):(.+)-(EQ|INDEX)$`)

const (
	suffixNSE = ".NS"
	suffixBSE = ".BO"
)

// ToProvider 标准 symbol -> 券商代码
func ToProvider(canonical string) (string, bool) {
	sym := clean(canonical)
	if sym == "" {
		return "", false
	}
	if ix, ok := byName[sym]; ok {
		return ix.Provider, true
	}
	if strings.HasPrefix(sym, "^") {
		return "", false
	}
	if strings.HasPrefix(sym, "NIFTY") {
		return "NSE:" + strings.ReplaceAll(sym, " ", "") + "-INDEX", true
	}
	if !strings.Contains(sym, ".") {
		sym += suffixNSE
	}
	switch {
	case strings.HasSuffix(sym, suffixNSE):
		return "NSE:" + strings.TrimSuffix(sym, suffixNSE) + "-EQ", true
	case strings.HasSuffix(sym, suffixBSE):
		return "BSE:" + strings.TrimSuffix(sym, suffixBSE) + "-EQ", true
	}
	return "", false
}

// FromProvider 券商代码 -> 标准 symbol。不认识返回 false，调用方丢弃这条 tick。
func FromProvider(providerID string) (string, bool) {
	id := clean(providerID)
	if id == "" {
		return "", false
	}
	if ix, ok := byName[id]; ok {
		return ix.Canonical, true
	}
	m := providerRe.FindStringSubmatch(id)
	if m == nil {
		return "", false
	}
	exchange, name, kind := m[1], m[2], m[3]
	if kind == "INDEX" {
		// 表里没有的指数，给个可读的名字
		if strings.HasPrefix(name, "NIFTY") {
			return looseIndex(name), true
		}
		return name, true
	}
	if exchange == "NSE" {
		return name + suffixNSE, true
	}
	return name + suffixBSE, true
}

// Normalize 订阅请求归一化：大写；指数的各种写法换成标准名；裸代码补 .NS
func Normalize(raw string) string {
	sym := clean(raw)
	if sym == "" {
		return ""
	}
	if ix, ok := byName[sym]; ok {
		return ix.Canonical
	}
	if strings.HasPrefix(sym, "NIFTY") && !strings.Contains(sym, ".") {
		return looseIndex(strings.ReplaceAll(sym, " ", ""))
	}
	if looksLikeIndex(sym) || strings.Contains(sym, ".") {
		return sym
	}
	return sym + suffixNSE
}

// looseIndex 表外 NIFTY 指数的标准名：NIFTYNEXT50 -> NIFTY NEXT50。
// 券商代码去掉了全部空格，只能还原 NIFTY 后面那一个，所以订阅侧也收敛成这个形状。
func looseIndex(compact string) string {
	rest := strings.TrimPrefix(compact, "NIFTY")
	if rest == "" {
		return "NIFTY"
	}
	return "NIFTY " + rest
}

// Canonical 读接口用：先处理品牌别名，再 Normalize
func Canonical(raw string) string {
	sym := clean(raw)
	if alias, ok := brandAliases[sym]; ok {
		return alias
	}
	return Normalize(sym)
}

// IsIndex 指数类 symbol（决定缓存有效期和订阅分批）
func IsIndex(canonical string) bool {
	sym := clean(canonical)
	if _, ok := byCanonical[sym]; ok {
		return true
	}
	return looksLikeIndex(sym)
}

// RESTCode REST 行情源的查询代码，指数用 ^ 代码，股票就是标准 symbol
func RESTCode(canonical string) string {
	sym := clean(canonical)
	if ix, ok := byName[sym]; ok {
		return ix.REST
	}
	return sym
}

// ScrapeCode 行情网页路径：RELIANCE.NS -> RELIANCE:NSE，X.BO -> X:BOM
func ScrapeCode(canonical string) (string, bool) {
	sym := clean(canonical)
	if ix, ok := byName[sym]; ok {
		return ix.Scrape, true
	}
	switch {
	case strings.HasSuffix(sym, suffixNSE):
		return strings.TrimSuffix(sym, suffixNSE) + ":NSE", true
	case strings.HasSuffix(sym, suffixBSE):
		return strings.TrimSuffix(sym, suffixBSE) + ":BOM", true
	case looksLikeIndex(sym) && !strings.HasPrefix(sym, "^"):
		return strings.ReplaceAll(sym, " ", "_") + ":INDEXNSE", true
	}
	return "", false
}

// AlternateListing NSE 找不到时换 BSE 再试
func AlternateListing(canonical string) (string, bool) {
	sym := clean(canonical)
	if strings.HasSuffix(sym, suffixNSE) {
		return strings.TrimSuffix(sym, suffixNSE) + suffixBSE, true
	}
	return "", false
}

func looksLikeIndex(sym string) bool {
	return strings.HasPrefix(sym, "NIFTY") || sym == "SENSEX" || strings.HasPrefix(sym, "^")
}

// clean 大写、去首尾空白、合并连续空格
func clean(s string) string {
	return strings.Join(strings.Fields(strings.ToUpper(s)), " ")
}
