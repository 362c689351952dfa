package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Timestamp layouts used for storage and bucket keys.
const (
	TimeLayout = "2006-01-02 15:04:05"
	DateLayout = "2006-01-02"
)

const (
	ChannelWeChat Channel = "WeChat Pay"
	ChannelAlipay Channel = "Alipay"
	ChannelManual Channel = "Manual"
)

const (
	ImportSuccess ImportStatus = "Success"
	ImportPartial ImportStatus = "Partial"
	ImportFailed  ImportStatus = "Failed"
)

// DefaultCurrency is what both payment platforms export in.
const DefaultCurrency = "CNY"

type (
	// Channel identifies the source an expense was imported from.
	Channel string

	ImportStatus string

	// Expense is the canonical record for one transaction.
	Expense struct {
		ID                    int64
		ExternalTransactionID string
		TransactionTime       time.Time
		Amount                decimal.Decimal
		Currency              string
		Channel               Channel
		RawDescription        string
		AIDescription         string

		AICategoryL1   string
		AICategoryL2   string
		UserCategoryL1 string
		UserCategoryL2 string

		IsAIClassified  bool
		IsUserConfirmed bool
		IsHidden        bool
		Notes           string

		SourceCategory      string
		SourcePaymentMethod string
		SourceStatus        string
		ExternalMerchantID  string

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Draft is a normalized row that has not been persisted yet.
	Draft struct {
		ExternalTransactionID string
		TransactionTime       time.Time
		Amount                decimal.Decimal
		Currency              string
		Channel               Channel
		RawDescription        string
		AIDescription         string
		Notes                 string
		SourceCategory        string
		SourcePaymentMethod   string
		SourceStatus          string
		ExternalMerchantID    string
	}

	// UserCategories is the confirmed category pair written by the user.
	UserCategories struct {
		L1 string
		L2 string
	}

	// ImportBatch summarizes one ingestion attempt. It is written once.
	ImportBatch struct {
		ID                      int64
		SourceChannel           Channel
		FileIdentifier          string
		ImportedAt              time.Time
		RecordsSeen             int
		RecordsImported         int
		RecordsSkippedDuplicate int
		RecordsFailedParse      int
		RecordsFiltered         int
		Status                  ImportStatus
		Failures                []string
	}

	// ExpenseFilter narrows the paginated expense listing.
	ExpenseFilter struct {
		Channel    Channel
		Classified *bool
		Confirmed  *bool
		Hidden     *bool
		Query      string
		Page       int
		PageSize   int
	}

	// ExpensePage is one page of a filtered listing.
	ExpensePage struct {
		Items    []Expense
		Total    int
		Page     int
		PageSize int
	}
)

var (
	ErrNotFound             = errors.New("not found")
	ErrNotEligible          = errors.New("not eligible for classification")
	ErrValidation           = errors.New("validation failed")
	ErrIncompleteCategories = errors.New("both user categories are required")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidTime          = errors.New("invalid transaction time")
	ErrUnknownChannel       = errors.New("unknown channel")
	ErrEmptyDescription     = errors.New("empty description")
)

// ParseChannel accepts the canonical names and their short aliases.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wechat", "wechat pay", "wechatpay", "微信", "微信支付":
		return ChannelWeChat, nil
	case "alipay", "支付宝":
		return ChannelAlipay, nil
	case "manual", "test":
		return ChannelManual, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownChannel, s)
}

func (c Channel) String() string {
	return string(c)
}

// Validate checks the fields every persisted expense needs.
func (d Draft) Validate() error {
	if d.TransactionTime.IsZero() {
		return ErrInvalidTime
	}
	if d.Channel == "" {
		return ErrUnknownChannel
	}
	if strings.TrimSpace(d.RawDescription) == "" && strings.TrimSpace(d.AIDescription) == "" {
		return ErrEmptyDescription
	}
	return nil
}

// Validate accepts either a complete pair or a full reset to empty.
func (u UserCategories) Validate() error {
	l1 := strings.TrimSpace(u.L1)
	l2 := strings.TrimSpace(u.L2)
	if (l1 == "") != (l2 == "") {
		return ErrIncompleteCategories
	}
	return nil
}

// Confirmed reports whether the pair marks the expense as user-confirmed.
func (u UserCategories) Confirmed() bool {
	return strings.TrimSpace(u.L1) != "" && strings.TrimSpace(u.L2) != ""
}

// Validate enforces the record-level invariants.
func (e Expense) Validate() error {
	if e.TransactionTime.IsZero() {
		return ErrInvalidTime
	}
	if e.IsUserConfirmed {
		if !(UserCategories{L1: e.UserCategoryL1, L2: e.UserCategoryL2}).Confirmed() {
			return ErrIncompleteCategories
		}
	}
	return nil
}

// ClassificationText is the text sent to the classifier.
func (e Expense) ClassificationText() string {
	if s := strings.TrimSpace(e.AIDescription); s != "" {
		return s
	}
	return strings.TrimSpace(e.RawDescription)
}

// CheckEligible returns ErrNotEligible when the expense must not be sent
// to the classifier.
func (e Expense) CheckEligible() error {
	if e.IsUserConfirmed {
		return fmt.Errorf("%w: expense %d is user-confirmed", ErrNotEligible, e.ID)
	}
	if e.ClassificationText() == "" {
		return fmt.Errorf("%w: expense %d has no description", ErrNotEligible, e.ID)
	}
	return nil
}

// DeriveImportStatus applies the batch status rules in precedence order.
func DeriveImportStatus(seen, imported, failed int) ImportStatus {
	switch {
	case failed == 0:
		return ImportSuccess
	case imported > 0:
		return ImportPartial
	default:
		return ImportFailed
	}
}

// Normalize clamps paging parameters to sane bounds.
func (f ExpenseFilter) Normalize() ExpenseFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 50
	}
	if f.PageSize > 500 {
		f.PageSize = 500
	}
	return f
}

func (f ExpenseFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}
