package pipeline

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ironsheep/orthoscan/internal/imaging"
	"github.com/ironsheep/orthoscan/internal/report"
)

// SubmitResult is the outcome of SubmitReport. PDF is empty when the
// report was only saved.
type SubmitResult struct {
	Message  string `json:"message"`
	ReportID string `json:"report_id"`
	PDF      []byte `json:"-"`
}

// SubmitReport validates and stores a report, then renders it unless
// saveOnly is set. The image must decode; it is stored as uploaded.
func (o *Orchestrator) SubmitReport(ctx context.Context, sub report.Submission, doctorID string, data []byte, saveOnly bool) (*SubmitResult, error) {
	src, err := o.decode("submit report", data)
	if err != nil {
		return nil, err
	}
	return o.SubmitReportSource(ctx, sub, doctorID, src, saveOnly)
}

// SubmitReportSource is SubmitReport for an already decoded image. The
// stored image is src.Data.
func (o *Orchestrator) SubmitReportSource(ctx context.Context, sub report.Submission, doctorID string, src *imaging.Source, saveOnly bool) (*SubmitResult, error) {
	r, err := report.NewReport(sub, doctorID, src.Data, src.MIMEType(), o.now())
	if err != nil {
		return nil, err
	}
	id, err := o.store.Insert(ctx, r)
	if err != nil {
		o.log.Error("pipeline", err, map[string]interface{}{
			"op":         "submit report",
			"patient_id": r.PatientID,
		})
		return nil, err
	}
	r.ID = id
	if o.metrics != nil {
		o.metrics.ReportsSaved.Inc()
	}
	o.log.Info("pipeline", "report saved", map[string]interface{}{
		"report_id": id,
		"doctor_id": doctorID,
		"annotated": r.IsAnnotatedImage,
	})

	out := &SubmitResult{Message: "Report saved successfully", ReportID: id}
	if saveOnly {
		return out, nil
	}
	out.PDF, err = o.render(r)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RenderReport regenerates the PDF of a stored report, including its
// stored image.
func (o *Orchestrator) RenderReport(ctx context.Context, id string) ([]byte, error) {
	r, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.render(r)
}

// ListReports returns the doctor's reports without their image bytes.
func (o *Orchestrator) ListReports(ctx context.Context, doctorID string) ([]*report.Report, error) {
	return o.store.ListByDoctor(ctx, doctorID, report.DefaultListLimit)
}

func (o *Orchestrator) render(r *report.Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := report.Render(&buf, r, o.page); err != nil {
		return nil, fmt.Errorf("render report %s: %w", r.ID, err)
	}
	return buf.Bytes(), nil
}
