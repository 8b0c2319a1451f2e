package patient

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/jwalitptl/healthbridge/internal/model"
	apperrors "github.com/jwalitptl/healthbridge/pkg/errors"
)

const (
	FormatCSV   = "csv"
	FormatExcel = "excel"

	exportSheet = "Patients"
)

var exportHeaders = []string{
	"Patient Name", "Age", "Age Group", "Gender", "Phone Number", "Email",
	"Address", "City", "District", "State", "Pincode", "Location",
	"Hospital/Clinic", "Doctor Name", "Diseases", "Economic Status", "Record Created",
}

// ExportFile is a rendered export ready to be sent as an attachment.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

func exportRow(p *model.Patient) []string {
	age := ""
	if p.Age != nil {
		age = strconv.Itoa(*p.Age)
	}
	return []string{
		p.Name, age, p.AgeGroup(), string(p.Gender), p.PhoneNumber, p.Email,
		p.Address, p.City, p.District, p.State, p.Pincode, p.Location,
		p.HospitalClinic, p.DoctorName, strings.Join(p.Diseases, ", "), p.EconomicStatus,
		p.CreatedAt.Format(time.RFC3339),
	}
}

// Export renders every patient matching filters, ignoring pagination.
func (s *Service) Export(ctx context.Context, filters *model.PatientFilters, format string) (*ExportFile, error) {
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatExcel {
		return nil, apperrors.BadRequest(fmt.Sprintf("unsupported export format %q: use csv or excel", format), nil)
	}

	all := *filters
	all.Pagination = model.Pagination{}
	patients, _, err := s.ListPatients(ctx, &all)
	if err != nil {
		return nil, err
	}
	if len(patients) == 0 {
		return nil, apperrors.NotFound("patients to export", nil)
	}

	if format == FormatExcel {
		data, err := renderExcel(patients)
		if err != nil {
			return nil, err
		}
		return &ExportFile{
			Filename:    "patients_export.xlsx",
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Data:        data,
		}, nil
	}

	data, err := renderCSV(patients)
	if err != nil {
		return nil, err
	}
	return &ExportFile{Filename: "patients_export.csv", ContentType: "text/csv", Data: data}, nil
}

func renderCSV(patients []*model.Patient) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeaders); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, p := range patients {
		if err := w.Write(exportRow(p)); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write csv: %w", err)
	}
	return buf.Bytes(), nil
}

func renderExcel(patients []*model.Patient) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	setRow := func(n int, row []interface{}) error {
		cell, err := excelize.CoordinatesToCellName(1, n)
		if err != nil {
			return err
		}
		return f.SetSheetRow(exportSheet, cell, &row)
	}

	header := make([]interface{}, len(exportHeaders))
	for i, h := range exportHeaders {
		header[i] = h
	}
	if err := setRow(1, header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	for i, p := range patients {
		values := exportRow(p)
		row := make([]interface{}, len(values))
		for j, v := range values {
			row[j] = v
		}
		if p.Age != nil {
			row[1] = *p.Age
		}
		if err := setRow(i+2, row); err != nil {
			return nil, fmt.Errorf("failed to write row: %w", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}
	return buf.Bytes(), nil
}
