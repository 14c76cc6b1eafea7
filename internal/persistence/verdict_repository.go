package persistence

import (
	"database/sql"
	"log/slog"

	"github.com/IliaW/page-guard/internal/domain"
	"github.com/IliaW/page-guard/internal/model"
)

// VerdictStorage keeps the history of fresh classifications.
type VerdictStorage interface {
	SaveVerdict(int, *model.VerdictRecord) error
	GetHistory(string, int) []*model.VerdictRecord
}

type VerdictRepository struct {
	db *sql.DB
}

func NewVerdictRepository(db *sql.DB) *VerdictRepository {
	return &VerdictRepository{db: db}
}

// SaveVerdict appends the record to page_guard.verdict_history.
func (vr *VerdictRepository) SaveVerdict(tabID int, rec *model.VerdictRecord) error {
	host, _ := domain.Of(rec.URL)
	_, err := vr.db.Exec(`INSERT INTO page_guard.verdict_history (tab_id, url, domain, status, explanation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		tabID, rec.URL, host, string(rec.Status), rec.Explanation, rec.Timestamp)
	if err != nil {
		slog.Error("failed to save the verdict to the database.", slog.String("url", rec.URL),
			slog.String("err", err.Error()))
		return err
	}
	slog.Debug("verdict saved.", slog.String("url", rec.URL), slog.String("status", string(rec.Status)))

	return nil
}

// GetHistory returns up to limit stored verdicts for the url, newest first.
func (vr *VerdictRepository) GetHistory(url string, limit int) []*model.VerdictRecord {
	var records []*model.VerdictRecord
	rows, err := vr.db.Query(`SELECT url, status, explanation, created_at FROM page_guard.verdict_history
		WHERE url = $1 ORDER BY created_at DESC LIMIT $2`, url, limit)
	if err != nil {
		slog.Error("failed to get verdict history from the database.", slog.String("err", err.Error()))
		return nil
	}
	defer func(rows *sql.Rows) {
		err = rows.Close()
		if err != nil {
			slog.Error("failed to close rows.", slog.String("err", err.Error()))
		}
	}(rows)

	for rows.Next() {
		var rec model.VerdictRecord
		var status string
		if err = rows.Scan(&rec.URL, &status, &rec.Explanation, &rec.Timestamp); err != nil {
			slog.Error("failed to scan verdict history from the database.", slog.String("err", err.Error()))
			return nil
		}
		rec.Status = model.Status(status)
		records = append(records, &rec)
	}

	if err = rows.Err(); err != nil {
		slog.Error("failed to get verdict history from the database.", slog.String("err", err.Error()))
		return nil
	}
	slog.Debug("verdicts found.", slog.Int("size", len(records)))
	return records
}

// NoopStorage is used when the database is disabled.
type NoopStorage struct{}

func (NoopStorage) SaveVerdict(int, *model.VerdictRecord) error   { return nil }
func (NoopStorage) GetHistory(string, int) []*model.VerdictRecord { return nil }
