package http

import (
	"time"

	"spendwise/internal/config"
	"spendwise/internal/core"
)

// JSON shapes of the API. Amounts are decimal strings with two places;
// transaction times are the naive wall-clock values from the export.

type expenseResponse struct {
	ID                    int64  `json:"id"`
	ExternalTransactionID string `json:"external_transaction_id,omitempty"`
	TransactionTime       string `json:"transaction_time"`
	Amount                string `json:"amount"`
	Currency              string `json:"currency"`
	Channel               string `json:"channel"`
	RawDescription        string `json:"raw_description"`
	AIDescription         string `json:"ai_description"`
	AICategoryL1          string `json:"ai_category_l1,omitempty"`
	AICategoryL2          string `json:"ai_category_l2,omitempty"`
	UserCategoryL1        string `json:"user_category_l1,omitempty"`
	UserCategoryL2        string `json:"user_category_l2,omitempty"`
	IsAIClassified        bool   `json:"is_ai_classified"`
	IsUserConfirmed       bool   `json:"is_user_confirmed"`
	IsHidden              bool   `json:"is_hidden"`
	Notes                 string `json:"notes,omitempty"`
	SourceCategory        string `json:"source_category,omitempty"`
	SourcePaymentMethod   string `json:"source_payment_method,omitempty"`
	SourceStatus          string `json:"source_status,omitempty"`
	ExternalMerchantID    string `json:"external_merchant_id,omitempty"`
	CreatedAt             string `json:"created_at"`
	UpdatedAt             string `json:"updated_at"`
}

func newExpenseResponse(e core.Expense) expenseResponse {
	return expenseResponse{
		ID:                    e.ID,
		ExternalTransactionID: e.ExternalTransactionID,
		TransactionTime:       e.TransactionTime.Format(core.TimeLayout),
		Amount:                core.FormatAmount(e.Amount),
		Currency:              e.Currency,
		Channel:               string(e.Channel),
		RawDescription:        e.RawDescription,
		AIDescription:         e.AIDescription,
		AICategoryL1:          e.AICategoryL1,
		AICategoryL2:          e.AICategoryL2,
		UserCategoryL1:        e.UserCategoryL1,
		UserCategoryL2:        e.UserCategoryL2,
		IsAIClassified:        e.IsAIClassified,
		IsUserConfirmed:       e.IsUserConfirmed,
		IsHidden:              e.IsHidden,
		Notes:                 e.Notes,
		SourceCategory:        e.SourceCategory,
		SourcePaymentMethod:   e.SourcePaymentMethod,
		SourceStatus:          e.SourceStatus,
		ExternalMerchantID:    e.ExternalMerchantID,
		CreatedAt:             e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:             e.UpdatedAt.Format(time.RFC3339),
	}
}

type expensePageResponse struct {
	Items    []expenseResponse `json:"items"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

func newExpensePageResponse(p core.ExpensePage) expensePageResponse {
	items := make([]expenseResponse, len(p.Items))
	for i, e := range p.Items {
		items[i] = newExpenseResponse(e)
	}
	return expensePageResponse{Items: items, Total: p.Total, Page: p.Page, PageSize: p.PageSize}
}

type importBatchResponse struct {
	ID                      int64    `json:"id"`
	SourceChannel           string   `json:"source_channel"`
	FileIdentifier          string   `json:"file_identifier"`
	ImportedAt              string   `json:"imported_at"`
	RecordsSeen             int      `json:"records_seen"`
	RecordsImported         int      `json:"records_imported"`
	RecordsSkippedDuplicate int      `json:"records_skipped_duplicate"`
	RecordsFailedParse      int      `json:"records_failed_parse"`
	RecordsFiltered         int      `json:"records_filtered"`
	Status                  string   `json:"status"`
	Failures                []string `json:"failures,omitempty"`
}

func newImportBatchResponse(b core.ImportBatch) importBatchResponse {
	return importBatchResponse{
		ID:                      b.ID,
		SourceChannel:           string(b.SourceChannel),
		FileIdentifier:          b.FileIdentifier,
		ImportedAt:              b.ImportedAt.Format(time.RFC3339),
		RecordsSeen:             b.RecordsSeen,
		RecordsImported:         b.RecordsImported,
		RecordsSkippedDuplicate: b.RecordsSkippedDuplicate,
		RecordsFailedParse:      b.RecordsFailedParse,
		RecordsFiltered:         b.RecordsFiltered,
		Status:                  string(b.Status),
		Failures:                b.Failures,
	}
}

type categoriesRequest struct {
	L1 string `json:"l1"`
	L2 string `json:"l2"`
}

type hiddenRequest struct {
	Hidden *bool `json:"hidden"`
}

type taxonomyResponse struct {
	Name     string   `json:"name"`
	Children []string `json:"children"`
}

type settingsResponse struct {
	DefaultService string             `json:"default_service"`
	Services       []string           `json:"services"`
	Taxonomy       []taxonomyResponse `json:"taxonomy"`
	LoadedAt       string             `json:"loaded_at"`
}

func newSettingsResponse(snap *config.Snapshot) settingsResponse {
	cats := snap.Taxonomy().Categories()
	tax := make([]taxonomyResponse, len(cats))
	for i, c := range cats {
		children := c.Children
		if children == nil {
			children = []string{}
		}
		tax[i] = taxonomyResponse{Name: c.Name, Children: children}
	}
	return settingsResponse{
		DefaultService: snap.DefaultService().Name,
		Services:       snap.ServiceNames(),
		Taxonomy:       tax,
		LoadedAt:       snap.LoadedAt().Format(time.RFC3339),
	}
}
