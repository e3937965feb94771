package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ironsheep/orthoscan/internal/apperr"
	"github.com/ironsheep/orthoscan/internal/imaging"
	"github.com/ironsheep/orthoscan/internal/pipeline"
	"github.com/ironsheep/orthoscan/internal/report"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "lesion_segment").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool failures map to JSON-RPC codes by error kind; see errorCode.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		code, message := errorCode(err)
		s.log.Warning("mcp", "tool call failed", map[string]interface{}{
			"tool":  params.Name,
			"kind":  apperr.KindOf(err).String(),
			"error": err.Error(),
		})
		return s.errorResponse(req.ID, code, message, err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// errorCode maps an error kind to a JSON-RPC error code and message.
func errorCode(err error) (int, string) {
	switch apperr.KindOf(err) {
	case apperr.ImageDecodeFailure, apperr.InvalidInput, apperr.InvalidGeometry:
		return -32602, "Invalid params"
	case apperr.NotFound:
		return -32001, "Not found"
	case apperr.PersistenceFailure:
		return -32000, "Storage failure"
	default:
		return -32000, "Tool execution failed"
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	switch name {
	// Analysis
	case "lesion_analyze":
		return s.handleLesionAnalyze(ctx, args)
	case "lesion_detect":
		return s.handleLesionDetect(ctx, args)
	case "lesion_segment":
		return s.handleLesionSegment(ctx, args)
	case "lesion_annotate":
		return s.handleLesionAnnotate(ctx, args)

	// Reports
	case "report_submit":
		return s.handleReportSubmit(ctx, args)
	case "report_list":
		return s.handleReportList(ctx, args)
	case "report_render":
		return s.handleReportRender(ctx, args)

	default:
		return nil, apperr.E(apperr.InvalidInput, "tools/call", fmt.Errorf("unknown tool: %s", name))
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// Panics are suppressed; on marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func invalidArgs(tool string, err error) error {
	return apperr.E(apperr.InvalidInput, tool, fmt.Errorf("invalid arguments: %w", err))
}

// === Image input ===

type imageArgs struct {
	Path        string `json:"path"`
	ImageBase64 string `json:"image_base64"`
}

// imageSource resolves the image argument to a decoded source. Paths go
// through the cache, so repeated calls on one file reuse its raster.
func (s *Server) imageSource(a imageArgs) (*imaging.Source, error) {
	switch {
	case a.Path != "":
		return s.cache.Load(a.Path)
	case a.ImageBase64 != "":
		data, err := decodeBase64Image(a.ImageBase64)
		if err != nil {
			return nil, err
		}
		return s.pipeline.Decode(data)
	default:
		return nil, apperr.E(apperr.InvalidInput, "image input", fmt.Errorf("either path or image_base64 is required"))
	}
}

func decodeBase64Image(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, apperr.E(apperr.ImageDecodeFailure, "image input", fmt.Errorf("base64: %w", err))
	}
	return data, nil
}

// === Analysis Handlers ===

func (s *Server) handleLesionAnalyze(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a imageArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, invalidArgs("lesion_analyze", err)
	}
	src, err := s.imageSource(a)
	if err != nil {
		return nil, err
	}
	return s.pipeline.AnalyzeSource(ctx, src)
}

func (s *Server) handleLesionDetect(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a imageArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, invalidArgs("lesion_detect", err)
	}
	src, err := s.imageSource(a)
	if err != nil {
		return nil, err
	}
	return s.pipeline.DetectSource(ctx, src)
}

func (s *Server) handleLesionSegment(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a imageArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, invalidArgs("lesion_segment", err)
	}
	src, err := s.imageSource(a)
	if err != nil {
		return nil, err
	}
	return s.pipeline.SegmentSource(ctx, src)
}

type lesionAnnotateArgs struct {
	imageArgs
	DamageLocation json.RawMessage `json:"damage_location"`
	WithMask       bool            `json:"with_mask"`
	Label          string          `json:"label"`
}

func (s *Server) handleLesionAnnotate(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a lesionAnnotateArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, invalidArgs("lesion_annotate", err)
	}
	src, err := s.imageSource(a.imageArgs)
	if err != nil {
		return nil, err
	}
	return s.pipeline.AnnotateSource(ctx, src, pipeline.AnnotateRequest{
		RawLocation: a.DamageLocation,
		WithMask:    a.WithMask,
		Label:       a.Label,
	})
}

// === Report Handlers ===

type reportSubmitArgs struct {
	imageArgs
	PatientID        string          `json:"patient_id"`
	Disorder         string          `json:"disorder"`
	Confidence       json.RawMessage `json:"confidence"`
	Severity         string          `json:"severity"`
	Notes            string          `json:"notes"`
	DetailedAnalysis string          `json:"detailed_analysis"`
	Recommendations  json.RawMessage `json:"recommendations"`
	DamageLocation   json.RawMessage `json:"damage_location"`
	DoctorName       string          `json:"doctor_name"`
	IsAnnotatedImage bool            `json:"is_annotated_image"`
	SaveOnly         bool            `json:"save_only"`
	OutputPath       string          `json:"output_path"`
}

type pdfResult struct {
	Message   string `json:"message,omitempty"`
	ReportID  string `json:"report_id"`
	PDFBase64 string `json:"pdf_base64,omitempty"`
	PDFPath   string `json:"pdf_path,omitempty"`
}

func (s *Server) handleReportSubmit(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a reportSubmitArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, invalidArgs("report_submit", err)
	}
	src, err := s.imageSource(a.imageArgs)
	if err != nil {
		return nil, err
	}

	sub := report.Submission{
		PatientID:        a.PatientID,
		Disorder:         a.Disorder,
		Confidence:       scalarText(a.Confidence),
		Severity:         a.Severity,
		Notes:            a.Notes,
		DetailedAnalysis: a.DetailedAnalysis,
		Recommendations:  scalarText(a.Recommendations),
		DamageLocation:   string(a.DamageLocation),
		DoctorName:       a.DoctorName,
		IsAnnotatedImage: a.IsAnnotatedImage,
	}
	res, err := s.pipeline.SubmitReportSource(ctx, sub, s.doctorID, src, a.SaveOnly)
	if err != nil {
		return nil, err
	}

	out := &pdfResult{Message: res.Message, ReportID: res.ReportID}
	if a.SaveOnly {
		return out, nil
	}
	if err := deliverPDF(out, res.PDF, a.OutputPath); err != nil {
		return nil, err
	}
	return out, nil
}

type reportListArgs struct {
	DoctorID string `json:"doctor_id"`
}

func (s *Server) handleReportList(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a reportListArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, invalidArgs("report_list", err)
	}
	if a.DoctorID == "" {
		a.DoctorID = s.doctorID
	}
	reports, err := s.pipeline.ListReports(ctx, a.DoctorID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"reports": reports, "count": len(reports)}, nil
}

type reportRenderArgs struct {
	ReportID   string `json:"report_id"`
	OutputPath string `json:"output_path"`
}

func (s *Server) handleReportRender(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a reportRenderArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, invalidArgs("report_render", err)
	}
	if a.ReportID == "" {
		return nil, apperr.E(apperr.InvalidInput, "report_render", fmt.Errorf("report_id is required"))
	}
	pdf, err := s.pipeline.RenderReport(ctx, a.ReportID)
	if err != nil {
		return nil, err
	}
	out := &pdfResult{ReportID: a.ReportID}
	if err := deliverPDF(out, pdf, a.OutputPath); err != nil {
		return nil, err
	}
	return out, nil
}

// deliverPDF writes pdf to path when one is given, otherwise embeds it.
func deliverPDF(out *pdfResult, pdf []byte, path string) error {
	if path == "" {
		out.PDFBase64 = base64.StdEncoding.EncodeToString(pdf)
		return nil
	}
	if err := os.WriteFile(path, pdf, 0o644); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	out.PDFPath = path
	return nil
}

// scalarText returns a JSON string's value, or the raw JSON text of any
// other value. Null and absent become "".
func scalarText(raw json.RawMessage) string {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return text
}
