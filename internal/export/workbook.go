package export

import (
	"bytes"
	"fmt"
	"time"

	"heartlen/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	SummarySheet = "Summary"
	SamplesSheet = "Samples"
)

// SamplesHeader 样本表头
var SamplesHeader = []string{"Index", "Value"}

// RecordWorkbook 生成单条记录的 Excel 文件
// Summary 表为汇总指标，Samples 表为逐点 PPG 数据
func RecordWorkbook(rec *models.Record) ([]byte, error) {
	f := excelize.NewFile()

	_, err := f.NewSheet(SummarySheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(SamplesSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	// 删除默认的 Sheet1，删除后下标会变化
	f.DeleteSheet("Sheet1")
	if index, err := f.GetSheetIndex(SummarySheet); err == nil {
		f.SetActiveSheet(index)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	summary := [][]interface{}{
		{"Record ID", rec.ID},
		{"Subject ID", rec.SubjectID},
		{"Session ID", rec.SessionID},
		{"Timestamp", rec.Timestamp.UTC().Format(time.RFC3339)},
		{"Heart Rate (BPM)", finiteOrEmpty(rec.HeartRate.BPM, rec.HeartRate.Computable())},
		{"Heart Rate Confidence (%)", rec.HeartRate.Confidence},
		{"HRV SDNN (ms)", finiteOrEmpty(rec.HRV.SDNN, rec.HRV.Computable())},
		{"HRV Confidence (%)", rec.HRV.Confidence},
		{"Signal Quality", rec.Quality.Class},
		{"Quality Confidence (%)", rec.Quality.Confidence},
		{"Sample Count", len(rec.Samples)},
	}
	for i, row := range summary {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		r := row
		if err := f.SetSheetRow(SummarySheet, cell, &r); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write summary row %d: %w", i+1, err)
		}
		if err := f.SetCellStyle(SummarySheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}
	if err := f.SetColWidth(SummarySheet, "A", "A", 28); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetColWidth(SummarySheet, "B", "B", 40); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	header := make([]interface{}, len(SamplesHeader))
	for i, h := range SamplesHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(SamplesSheet, "A1", &header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write samples header: %w", err)
	}
	if err := f.SetCellStyle(SamplesSheet, "A1", "B1", headerStyle); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}

	// 从第2行开始写入样本
	for i, v := range rec.Samples {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		row := []interface{}{i, v}
		if err := f.SetSheetRow(SamplesSheet, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write sample row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(SamplesSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// FileName 导出文件名
func FileName(rec *models.Record) string {
	subject := rec.SubjectID
	if subject == "" {
		subject = models.DefaultSubjectID
	}
	return fmt.Sprintf("heartlen_%s_%s.xlsx", subject, rec.Timestamp.UTC().Format("20060102_150405"))
}

func finiteOrEmpty(v float64, ok bool) interface{} {
	if !ok {
		return ""
	}
	return v
}
