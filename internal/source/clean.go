package source

import "strings"

// platformPrefixes are stripped from the front of a description, longest
// match first so 花呗扣款- wins over 花呗-.
var platformPrefixes = []string{
	"交易类型：扫码支付，备注：",
	"交易类型：消费，备注：",
	"购物消费-",
	"花呗扣款-",
	"扫码付款-",
	"扫码支付-",
	"微信支付-",
	"零钱通-",
	"支付宝-",
	"转账给-",
	"收款方-",
	"余额宝-",
	"付款-",
	"支付-",
	"花呗-",
	"零钱-",
	"消费-",
}

// CleanDescription reduces an export description to the merchant and
// item text a classifier can use. If nothing is left, raw is returned.
func CleanDescription(raw string) string {
	s := strings.TrimSpace(raw)

	for stripped := true; stripped; {
		stripped = false
		for _, p := range platformPrefixes {
			if strings.HasPrefix(s, p) {
				s = strings.TrimSpace(strings.TrimPrefix(s, p))
				stripped = true
				break
			}
		}
	}
	s = strings.ReplaceAll(s, "付款给", "")
	s = strings.Trim(s, "- \t")
	s = strings.Join(strings.Fields(s), " ")

	if s == "" {
		return strings.TrimSpace(raw)
	}
	return s
}

// rawDescription joins counterparty and item the way both platforms
// display them. "/" marks an empty cell in WeChat exports.
func rawDescription(counterparty, item string) string {
	if counterparty == "/" {
		counterparty = ""
	}
	if item == "/" {
		item = ""
	}
	switch {
	case counterparty != "" && item != "":
		return counterparty + " - " + item
	case counterparty != "":
		return counterparty
	default:
		return item
	}
}
