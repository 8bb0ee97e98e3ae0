package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"taxledger/internal/clients"
	"taxledger/internal/domain"
	"taxledger/internal/repository"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

type ExportStatus struct {
	Key      string    `json:"key"`
	Type     string    `json:"type"`
	ActorID  string    `json:"actor_id"`
	Filters  any       `json:"filters"`
	Progress float64   `json:"progress"`
	FileURL  *string   `json:"file_url"`
	Error    *string   `json:"error,omitempty"`
	Created  time.Time `json:"created_at"`
}

const (
	exportSetKey = "export_ids"
	exportTTL    = 20 * time.Minute

	maxPaymentsForExport = 500_000
)

type PaymentLister interface {
	List(ctx context.Context, f repository.PaymentsFilter) ([]domain.Payment, error)
	HasMoreThan(ctx context.Context, limit int64, f repository.PaymentsFilter) (bool, error)
}

type PaymentColumn struct {
	Header string
	Value  func(p domain.Payment) any
}

var paymentColumns = map[string]PaymentColumn{
	"receipt_id":       {Header: "Receipt ID", Value: func(p domain.Payment) any { return p.ReceiptID }},
	"assessment_id":    {Header: "Assessment ID", Value: func(p domain.Payment) any { return p.AssessmentID }},
	"sequence":         {Header: "Ledger Sequence", Value: func(p domain.Payment) any { return p.Sequence }},
	"amount":           {Header: "Amount", Value: func(p domain.Payment) any { return p.Amount }},
	"method":           {Header: "Method", Value: func(p domain.Payment) any { return string(p.Method) }},
	"received_by":      {Header: "Received By", Value: func(p domain.Payment) any { return p.ReceivedBy }},
	"payment_date":     {Header: "Payment Date", Value: func(p domain.Payment) any { return p.PaymentDate.Format("2006-01-02 15:04:05") }},
	"reference_number": {Header: "Reference", Value: func(p domain.Payment) any { return p.ReferenceNumber }},
}

var defaultPaymentFields = []string{
	"payment_date", "receipt_id", "assessment_id", "sequence",
	"amount", "method", "received_by", "reference_number",
}

type EntryColumn struct {
	Header string
	Value  func(e domain.LedgerEntry) any
}

var entryColumns = map[string]EntryColumn{
	"sequence":      {Header: "Sequence", Value: func(e domain.LedgerEntry) any { return e.Sequence }},
	"event_type":    {Header: "Event", Value: func(e domain.LedgerEntry) any { return string(e.EventType) }},
	"timestamp":     {Header: "Timestamp", Value: func(e domain.LedgerEntry) any { return e.Timestamp.Format("2006-01-02 15:04:05") }},
	"actor_id":      {Header: "Actor", Value: func(e domain.LedgerEntry) any { return e.ActorID }},
	"actor_role":    {Header: "Role", Value: func(e domain.LedgerEntry) any { return e.ActorRole }},
	"payload":       {Header: "Payload", Value: func(e domain.LedgerEntry) any { return string(e.Payload) }},
	"previous_hash": {Header: "Previous Hash", Value: func(e domain.LedgerEntry) any { return e.PreviousHash }},
	"current_hash":  {Header: "Hash", Value: func(e domain.LedgerEntry) any { return e.CurrentHash }},
}

var defaultEntryFields = []string{
	"sequence", "event_type", "timestamp", "actor_id", "actor_role",
	"payload", "previous_hash", "current_hash",
}

type ExportService struct {
	engine   *Engine
	payments PaymentLister
	redis    *clients.RedisClient
	storage  *clients.StorageClient
	s3       *clients.S3Client
	ws       *clients.WebSocketClient
}

func NewExportService(
	engine *Engine,
	payments PaymentLister,
	redis *clients.RedisClient,
	storage *clients.StorageClient,
	s3 *clients.S3Client,
	ws *clients.WebSocketClient,
) *ExportService {
	return &ExportService{
		engine:   engine,
		payments: payments,
		redis:    redis,
		storage:  storage,
		s3:       s3,
		ws:       ws,
	}
}

func (s *ExportService) saveStatus(ctx context.Context, st *ExportStatus) error {
	if s.redis == nil {
		return nil
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, st.Key, string(data), exportTTL); err != nil {
		return err
	}
	return s.redis.SAdd(ctx, exportSetKey, st.Key)
}

// StartPaymentsExport kicks off an async xlsx export of payments matching the
// filter. It returns the export key immediately; progress and the final file
// URL are delivered over redis status records and websocket notifications.
func (s *ExportService) StartPaymentsExport(ctx context.Context, selected []string, filter repository.PaymentsFilter, actor Actor) (string, error) {
	if len(selected) == 0 {
		selected = defaultPaymentFields
	}

	tooMany, err := s.payments.HasMoreThan(ctx, maxPaymentsForExport, filter)
	if err != nil {
		return "", err
	}
	if tooMany {
		return "", fmt.Errorf("too many payments to export (more than %d rows)", maxPaymentsForExport)
	}

	exportID := fmt.Sprintf("exports:%s", uuid.NewString())
	now := time.Now()

	status := &ExportStatus{
		Key:      exportID,
		Type:     "payments",
		ActorID:  actor.ID,
		Filters:  paymentsFiltersMap(filter, selected),
		Progress: 0,
		Created:  now,
	}
	_ = s.saveStatus(ctx, status)

	go s.runPaymentsExport(context.Background(), status, selected, filter)

	return exportID, nil
}

func (s *ExportService) runPaymentsExport(ctx context.Context, status *ExportStatus, selected []string, filter repository.PaymentsFilter) {
	payments, err := s.payments.List(ctx, filter)
	if err != nil {
		s.failExport(ctx, status, fmt.Sprintf("list payments failed: %v", err))
		return
	}

	var cols []PaymentColumn
	for _, key := range selected {
		col, ok := paymentColumns[key]
		if !ok {
			continue
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		s.failExport(ctx, status, "no valid columns selected")
		return
	}

	f := excelize.NewFile()
	sheet := "Payments"
	f.SetSheetName(f.GetSheetName(0), sheet)
	_ = f.SetDocProps(&excelize.DocProperties{Creator: status.ActorID})

	for i, col := range cols {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, col.Header)
	}

	total := len(payments)
	chunkSize := 1000
	for i, p := range payments {
		for colIdx, col := range cols {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, i+2)
			_ = f.SetCellValue(sheet, cell, col.Value(p))
		}

		if (i+1)%chunkSize == 0 || i == total-1 {
			raw := float64(i+1) / float64(total) * 100.0
			progress := math.Round(raw)
			if progress >= 100 {
				progress = 95
			}
			status.Progress = progress
			_ = s.saveStatus(ctx, status)
			if s.ws != nil {
				_ = s.ws.NotifyExportProgress(ctx, status.ActorID, status.Key, progress, "generating")
			}
		}
	}

	fileName := fmt.Sprintf("payments_%s.xlsx", time.Now().Format("20060102_150405"))
	s.finishExport(ctx, status, f, fileName)
}

// StartLedgerExport kicks off an async xlsx export of one assessment's full
// ledger history. The chain is verified before export so a tampered ledger
// never leaves the system looking authoritative.
func (s *ExportService) StartLedgerExport(ctx context.Context, assessmentID string, selected []string, actor Actor) (string, error) {
	if len(selected) == 0 {
		selected = defaultEntryFields
	}

	if err := s.engine.VerifyIntegrity(ctx, assessmentID); err != nil {
		return "", err
	}

	exportID := fmt.Sprintf("exports:%s", uuid.NewString())
	now := time.Now()

	status := &ExportStatus{
		Key:      exportID,
		Type:     "ledger",
		ActorID:  actor.ID,
		Filters:  map[string]any{"assessment_id": assessmentID, "fields": selected},
		Progress: 0,
		Created:  now,
	}
	_ = s.saveStatus(ctx, status)

	go s.runLedgerExport(context.Background(), status, assessmentID, selected)

	return exportID, nil
}

func (s *ExportService) runLedgerExport(ctx context.Context, status *ExportStatus, assessmentID string, selected []string) {
	entries, err := s.engine.GetHistory(ctx, assessmentID)
	if err != nil {
		s.failExport(ctx, status, fmt.Sprintf("read ledger failed: %v", err))
		return
	}

	var cols []EntryColumn
	for _, key := range selected {
		col, ok := entryColumns[key]
		if !ok {
			continue
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		s.failExport(ctx, status, "no valid columns selected")
		return
	}

	f := excelize.NewFile()
	sheet := "Ledger"
	f.SetSheetName(f.GetSheetName(0), sheet)
	_ = f.SetDocProps(&excelize.DocProperties{Creator: status.ActorID})

	for i, col := range cols {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, col.Header)
	}

	total := len(entries)
	for i, e := range entries {
		for colIdx, col := range cols {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, i+2)
			_ = f.SetCellValue(sheet, cell, col.Value(e))
		}

		if (i+1)%100 == 0 || i == total-1 {
			progress := math.Round(float64(i+1) / float64(total) * 100.0)
			if progress >= 100 {
				progress = 95
			}
			status.Progress = progress
			_ = s.saveStatus(ctx, status)
			if s.ws != nil {
				_ = s.ws.NotifyExportProgress(ctx, status.ActorID, status.Key, progress, "generating")
			}
		}
	}

	fileName := fmt.Sprintf("ledger_%s_%s.xlsx", assessmentID, time.Now().Format("20060102_150405"))
	s.finishExport(ctx, status, f, fileName)
}

func (s *ExportService) finishExport(ctx context.Context, status *ExportStatus, f *excelize.File, fileName string) {
	buf, err := f.WriteToBuffer()
	if err != nil {
		s.failExport(ctx, status, fmt.Sprintf("write workbook failed: %v", err))
		return
	}

	status.Progress = 95
	_ = s.saveStatus(ctx, status)
	if s.ws != nil {
		_ = s.ws.NotifyExportProgress(ctx, status.ActorID, status.Key, 95, "uploading")
	}

	var url string
	if s.s3 != nil {
		key, err := s.s3.UploadXLSX(ctx, fileName, buf.Bytes())
		if err != nil {
			s.failExport(ctx, status, fmt.Sprintf("upload export failed: %v", err))
			return
		}
		url, err = s.s3.GetTemporaryURL(ctx, key, exportTTL)
		if err != nil {
			s.failExport(ctx, status, fmt.Sprintf("presign export failed: %v", err))
			return
		}
	} else {
		savedName, err := s.storage.Save(ctx, fileName, buf.Bytes())
		if err != nil {
			s.failExport(ctx, status, fmt.Sprintf("save export failed: %v", err))
			return
		}
		url = s.storage.GetURL(savedName)
	}
	status.FileURL = &url
	status.Progress = 100
	_ = s.saveStatus(ctx, status)
	if s.ws != nil {
		_ = s.ws.NotifyExportProgress(ctx, status.ActorID, status.Key, 100, "ready")
		_ = s.ws.NotifyExportComplete(ctx, status.ActorID, status.Key, url, fileName)
	}
}

func (s *ExportService) failExport(ctx context.Context, status *ExportStatus, errStr string) {
	log.Printf("[EXPORT] %s: %s", status.Key, errStr)
	status.Error = &errStr
	status.Progress = 100
	_ = s.saveStatus(ctx, status)
	if s.ws != nil {
		_ = s.ws.NotifyExportFailed(ctx, status.ActorID, status.Key, errStr)
	}
}

// GetExports lists the actor's exports, newest first.
func (s *ExportService) GetExports(ctx context.Context, actorID string) ([]interface{}, error) {
	if s.redis == nil {
		return nil, errors.New("redis client not configured")
	}

	keys, err := s.redis.SMembers(ctx, exportSetKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get export keys: %w", err)
	}

	var statuses []ExportStatus
	for _, key := range keys {
		data, err := s.redis.Get(ctx, key)
		if err != nil {
			continue
		}

		var status ExportStatus
		if err := json.Unmarshal([]byte(data), &status); err != nil {
			continue
		}

		if status.ActorID == actorID {
			statuses = append(statuses, status)
		}
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Created.After(statuses[j].Created)
	})

	var exports []interface{}
	for _, status := range statuses {
		exports = append(exports, exportMap(status))
	}
	return exports, nil
}

func (s *ExportService) GetExport(ctx context.Context, exportID string, actorID string) (interface{}, error) {
	if s.redis == nil {
		return nil, errors.New("redis client not configured")
	}

	data, err := s.redis.Get(ctx, exportID)
	if err != nil {
		return nil, errors.New("export not found")
	}

	var status ExportStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, fmt.Errorf("failed to parse export status: %w", err)
	}

	if status.ActorID != actorID {
		return nil, errors.New("export not found")
	}

	return exportMap(status), nil
}

func exportMap(status ExportStatus) map[string]interface{} {
	m := map[string]interface{}{
		"key":        status.Key,
		"type":       status.Type,
		"actor_id":   status.ActorID,
		"progress":   status.Progress,
		"file_url":   status.FileURL,
		"filters":    status.Filters,
		"created_at": humanizeAgo(status.Created),
	}
	if status.Error != nil {
		m["error"] = *status.Error
	}
	return m
}

func humanizeAgo(t time.Time) string {
	now := time.Now()
	if t.After(now) {
		return "just now"
	}

	diff := now.Sub(t)
	minutes := int(diff.Minutes())
	if minutes < 1 {
		return "just now"
	}
	if minutes < 60 {
		return fmt.Sprintf("%d min ago", minutes)
	}
	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%d h ago", hours)
	}
	days := hours / 24
	if days < 30 {
		return fmt.Sprintf("%d d ago", days)
	}
	return t.Format("2006-01-02 15:04")
}

func paymentsFiltersMap(f repository.PaymentsFilter, fields []string) map[string]interface{} {
	m := map[string]interface{}{}
	if f.AssessmentID != nil {
		m["assessment_id"] = *f.AssessmentID
	} else {
		m["assessment_id"] = nil
	}
	if f.Method != nil {
		m["method"] = *f.Method
	} else {
		m["method"] = nil
	}
	if f.PaymentDateFrom != nil {
		m["payment_date_from"] = f.PaymentDateFrom.Format("2006-01-02")
	} else {
		m["payment_date_from"] = nil
	}
	if f.PaymentDateTo != nil {
		m["payment_date_to"] = f.PaymentDateTo.Format("2006-01-02")
	} else {
		m["payment_date_to"] = nil
	}
	m["fields"] = fields
	return m
}
