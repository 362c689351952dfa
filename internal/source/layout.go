package source

import "spendwise/internal/core"

// Direction values used by both payment platforms.
const (
	directionExpense = "支出"
	directionIncome  = "收入"
)

// Layout describes how one channel's export is laid out. Each column
// lists its accepted header names in preference order.
type Layout struct {
	Channel core.Channel
	// HeaderMarkers must all appear on the header line.
	HeaderMarkers []string
	// Delimited exports wrap the data block in ---- lines.
	Delimited bool
	// Signed amounts already carry their sign and have no direction column.
	Signed bool

	Time           []string
	Amount         []string
	Direction      []string
	Status         []string
	Counterparty   []string
	Item           []string
	ExternalID     []string
	MerchantID     []string
	SourceCategory []string
	PaymentMethod  []string
	Notes          []string

	// AcceptedStatuses is the success set. Nil accepts every status.
	AcceptedStatuses map[string]bool
}

var layouts = map[core.Channel]Layout{
	core.ChannelWeChat: {
		Channel:        core.ChannelWeChat,
		HeaderMarkers:  []string{"交易时间", "交易对方"},
		Time:           []string{"交易时间"},
		Amount:         []string{"金额(元)", "金额（元）", "金额"},
		Direction:      []string{"收/支"},
		Status:         []string{"当前状态"},
		Counterparty:   []string{"交易对方"},
		Item:           []string{"商品"},
		ExternalID:     []string{"交易单号"},
		MerchantID:     []string{"商户单号"},
		SourceCategory: []string{"交易类型"},
		PaymentMethod:  []string{"支付方式"},
		Notes:          []string{"备注"},
		AcceptedStatuses: map[string]bool{
			"支付成功":  true,
			"已存入零钱": true,
			"已收钱":   true,
			"对方已收钱": true,
			"朋友已收钱": true,
		},
	},
	core.ChannelAlipay: {
		Channel:        core.ChannelAlipay,
		HeaderMarkers:  []string{"交易对方", "收/支"},
		Delimited:      true,
		Time:           []string{"交易时间", "交易创建时间"},
		Amount:         []string{"金额", "金额（元）", "金额(元)"},
		Direction:      []string{"收/支"},
		Status:         []string{"交易状态"},
		Counterparty:   []string{"交易对方"},
		Item:           []string{"商品说明", "商品名称"},
		ExternalID:     []string{"交易订单号", "交易号"},
		MerchantID:     []string{"商家订单号", "商户订单号"},
		SourceCategory: []string{"交易分类"},
		PaymentMethod:  []string{"收/付款方式"},
		Notes:          []string{"备注"},
		AcceptedStatuses: map[string]bool{
			"交易成功": true,
		},
	},
	core.ChannelManual: {
		Channel:        core.ChannelManual,
		HeaderMarkers:  []string{"time", "amount"},
		Signed:         true,
		Time:           []string{"time"},
		Amount:         []string{"amount"},
		Item:           []string{"description"},
		Status:         []string{"status"},
		ExternalID:     []string{"external_id"},
		MerchantID:     []string{"merchant_id"},
		SourceCategory: []string{"category"},
		PaymentMethod:  []string{"payment_method"},
		Notes:          []string{"notes"},
	},
}

// LayoutFor returns the layout registered for channel.
func LayoutFor(channel core.Channel) (Layout, bool) {
	l, ok := layouts[channel]
	return l, ok
}
