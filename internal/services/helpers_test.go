package services

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"spendwise/internal/config"
	"spendwise/internal/core"
	"spendwise/internal/log"
	"spendwise/internal/storage"
)

func quietLogger() *log.Logger {
	return log.New(log.Config{Level: log.ParseLevel("error"), Output: io.Discard})
}

func newRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "services.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

type row struct {
	ext     string
	when    string
	amount  string
	desc    string
	channel core.Channel
}

func seed(t *testing.T, repo *storage.SQLiteRepository, rows ...row) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ts, err := time.Parse(core.TimeLayout, r.when)
		require.NoError(t, err)
		ch := r.channel
		if ch == "" {
			ch = core.ChannelWeChat
		}
		id, inserted, err := repo.InsertIfAbsent(context.Background(), core.Draft{
			ExternalTransactionID: r.ext,
			TransactionTime:       ts,
			Amount:                decimal.RequireFromString(r.amount),
			Currency:              core.DefaultCurrency,
			Channel:               ch,
			RawDescription:        r.desc,
			AIDescription:         r.desc,
		})
		require.NoError(t, err)
		require.True(t, inserted)
		ids = append(ids, id)
	}
	return ids
}

func snapshotSource(t *testing.T, mutate func(*config.Settings)) *config.Provider {
	t.Helper()
	s := config.DefaultSettings()
	svc := s.Services["deepseek"]
	svc.APIKey = "sk-test"
	s.Services["deepseek"] = svc
	if mutate != nil {
		mutate(&s)
	}
	snap, err := config.NewSnapshot(s)
	require.NoError(t, err)
	return config.NewStaticProvider(snap)
}
