package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/lib/pq"
	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/repositories"
	"github.com/zatekoja/dermascan/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

const scanTable = "scan_records"

var scanColumns = []interface{}{
	"id", "owner_id", "image_ref", "status", "automated_result",
	"correction", "notes", "version", "created_at", "updated_at",
}

// ScanAdapter implements the ScanRepository interface
type ScanAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewScanAdapter creates a new scan adapter
func NewScanAdapter(client *postgres.Client) repositories.ScanRepository {
	return &ScanAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Create inserts a new record at version 1
func (a *ScanAdapter) Create(ctx context.Context, record *entities.ScanRecord) error {
	record.Version = 1
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	automated, err := jsonColumn(record.AutomatedResult)
	if err != nil {
		return apperrors.NewInternalError("failed to encode automated result", err)
	}
	correction, err := jsonColumn(record.Correction)
	if err != nil {
		return apperrors.NewInternalError("failed to encode correction", err)
	}

	row := goqu.Record{
		"id":               record.ID,
		"owner_id":         record.OwnerID,
		"image_ref":        record.ImageRef,
		"status":           record.Status,
		"automated_result": automated,
		"correction":       correction,
		"notes":            record.Notes,
		"version":          record.Version,
		"created_at":       record.CreatedAt,
		"updated_at":       record.UpdatedAt,
	}

	query, args, err := a.db.Insert(scanTable).Rows(row).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflictError(fmt.Sprintf("scan %s already exists", record.ID))
		}
		return apperrors.NewInternalError("failed to create scan", err)
	}
	return nil
}

// GetByID retrieves a record by ID
func (a *ScanAdapter) GetByID(ctx context.Context, id string) (*entities.ScanRecord, error) {
	query, args, err := a.db.From(scanTable).Select(scanColumns...).Where(goqu.Ex{"id": id}).ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	record, err := scanRecordRow(a.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("scan with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get scan", err)
	}
	return record, nil
}

// Update locks the row, applies mutate and writes the result back in one transaction
func (a *ScanAdapter) Update(ctx context.Context, id string, mutate repositories.ScanMutator) (*entities.ScanRecord, error) {
	tx, err := a.client.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	query, args, err := a.db.From(scanTable).Select(scanColumns...).
		Where(goqu.Ex{"id": id}).
		ForUpdate(exp.Wait).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	current, err := scanRecordRow(tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("scan with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to lock scan", err)
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		if errors.Is(err, repositories.ErrUnchanged) {
			return current, err
		}
		return nil, err
	}
	next.ID, next.OwnerID, next.ImageRef, next.CreatedAt = current.ID, current.OwnerID, current.ImageRef, current.CreatedAt
	next.Version = current.Version + 1
	next.UpdatedAt = time.Now().UTC()

	automated, err := jsonColumn(next.AutomatedResult)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode automated result", err)
	}
	correction, err := jsonColumn(next.Correction)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode correction", err)
	}

	update, uargs, err := a.db.Update(scanTable).
		Set(goqu.Record{
			"status":           next.Status,
			"automated_result": automated,
			"correction":       correction,
			"notes":            next.Notes,
			"version":          next.Version,
			"updated_at":       next.UpdatedAt,
		}).
		Where(goqu.Ex{"id": id, "version": current.Version}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := tx.ExecContext(ctx, update, uargs...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to update scan", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rows == 0 {
		return nil, apperrors.NewConflictError(fmt.Sprintf("scan %s changed concurrently", id))
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewInternalError("failed to commit scan update", err)
	}
	committed = true
	return next, nil
}

// List retrieves records matching filter ordered by creation time
func (a *ScanAdapter) List(ctx context.Context, filter repositories.ScanFilter) ([]*entities.ScanRecord, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	ds := a.db.From(scanTable).Select(scanColumns...)
	if filter.OwnerID != "" {
		ds = ds.Where(goqu.Ex{"owner_id": filter.OwnerID})
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		ds = ds.Where(goqu.Ex{"status": statuses})
	}
	if filter.Unanalyzed {
		ds = ds.Where(goqu.C("automated_result").IsNull())
	}
	ds = ds.Order(goqu.C("created_at").Asc(), goqu.C("id").Asc())
	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}
	if filter.Offset > 0 {
		ds = ds.Offset(uint(filter.Offset))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list scans", err)
	}
	defer rows.Close()

	records := make([]*entities.ScanRecord, 0)
	for rows.Next() {
		record, err := scanRecordRow(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan row", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate scans", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecordRow(row rowScanner) (*entities.ScanRecord, error) {
	record := &entities.ScanRecord{}
	var automated, correction []byte
	var notes sql.NullString

	if err := row.Scan(
		&record.ID,
		&record.OwnerID,
		&record.ImageRef,
		&record.Status,
		&automated,
		&correction,
		&notes,
		&record.Version,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	record.Notes = notes.String

	if len(automated) > 0 {
		record.AutomatedResult = &entities.AutomatedResult{}
		if err := json.Unmarshal(automated, record.AutomatedResult); err != nil {
			return nil, fmt.Errorf("decode automated_result: %w", err)
		}
	}
	if len(correction) > 0 {
		record.Correction = &entities.Correction{}
		if err := json.Unmarshal(correction, record.Correction); err != nil {
			return nil, fmt.Errorf("decode correction: %w", err)
		}
	}
	return record, nil
}

// jsonColumn encodes v for a JSONB column, NULL when v is a nil pointer
func jsonColumn[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
