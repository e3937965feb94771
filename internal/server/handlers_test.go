package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

// callTool runs a tools/call request and returns the response.
func callTool(t *testing.T, s *Server, name string, args map[string]interface{}) *MCPResponse {
	t.Helper()
	params := map[string]interface{}{
		"name":      name,
		"arguments": args,
	}
	paramsJSON, _ := json.Marshal(params)

	req := &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  paramsJSON,
	}

	resp := s.handleRequest(context.Background(), req)
	if resp == nil {
		t.Fatal("handleRequest returned nil")
	}
	return resp
}

// toolResult decodes the JSON text content of a successful tool response.
func toolResult(t *testing.T, resp *MCPResponse) map[string]interface{} {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]interface{})
	content := result["content"].([]map[string]interface{})
	if len(content) != 1 || content[0]["type"] != "text" {
		t.Fatalf("content: %v", content)
	}

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(content[0]["text"].(string)), &out); err != nil {
		t.Fatalf("tool result is not JSON: %v", err)
	}
	return out
}

func TestHandleToolsCall_LesionAnalyze(t *testing.T) {
	s, _ := newTestServer(t)
	imgPath := createTestImageFile(t, 100, 80, color.RGBA{90, 90, 90, 255})

	out := toolResult(t, callTool(t, s, "lesion_analyze", map[string]interface{}{"path": imgPath}))

	if out["disorder"] != "Fracture" || out["source"] != "model" {
		t.Errorf("finding: %v", out)
	}
	loc, ok := out["damage_location"].(map[string]interface{})
	if !ok || loc["width"] != 0.4 {
		t.Errorf("damage_location: %v", out["damage_location"])
	}
	if s.cache.Len() != 1 {
		t.Errorf("image should be cached, cache has %d", s.cache.Len())
	}
}

func TestHandleToolsCall_Base64Input(t *testing.T) {
	s, _ := newTestServer(t)
	data := createTestImage(t, 20, 20, color.White)

	for name, encoded := range map[string]string{
		"plain":    base64.StdEncoding.EncodeToString(data),
		"data uri": "data:image/png;base64," + base64.StdEncoding.EncodeToString(data),
	} {
		t.Run(name, func(t *testing.T) {
			out := toolResult(t, callTool(t, s, "lesion_detect", map[string]interface{}{"image_base64": encoded}))
			if out["available"] != false {
				t.Errorf("no detector is loaded: %v", out)
			}
			dets, ok := out["detections"].([]interface{})
			if !ok || len(dets) != 0 {
				t.Errorf("detections should be an empty list, got %v", out["detections"])
			}
		})
	}
}

func TestHandleToolsCall_LesionSegment(t *testing.T) {
	s, _ := newTestServer(t)
	imgPath := createTestImageFile(t, 40, 30, color.RGBA{200, 200, 200, 255})

	out := toolResult(t, callTool(t, s, "lesion_segment", map[string]interface{}{"path": imgPath}))

	if out["method"] != "heuristic" {
		t.Errorf("method: %v", out["method"])
	}
	if out["width"] != float64(40) || out["height"] != float64(30) {
		t.Errorf("size: %v x %v", out["width"], out["height"])
	}
	mask, _ := out["mask"].(string)
	if len(mask) < 30 || mask[:22] != "data:image/png;base64," {
		t.Errorf("mask: %.40s", mask)
	}
	if _, ok := out["detections"]; !ok {
		t.Error("heuristic results include detections")
	}
}

func TestHandleToolsCall_LesionAnnotate(t *testing.T) {
	s, _ := newTestServer(t)
	imgPath := createTestImageFile(t, 60, 60, color.Black)

	out := toolResult(t, callTool(t, s, "lesion_annotate", map[string]interface{}{
		"path":            imgPath,
		"damage_location": map[string]interface{}{"x": 0.1, "y": 0.1, "width": 0.5, "height": 0.5},
		"label":           "ROI",
	}))

	if out["finding"] != nil {
		t.Error("explicit location should skip classification")
	}
	if img, _ := out["image"].(string); img == "" {
		t.Error("annotated image missing")
	}
}

func TestHandleToolsCall_LesionAnnotate_MalformedLocation(t *testing.T) {
	s, _ := newTestServer(t)
	imgPath := createTestImageFile(t, 10, 10, color.Black)

	out := toolResult(t, callTool(t, s, "lesion_annotate", map[string]interface{}{
		"path":            imgPath,
		"damage_location": map[string]interface{}{"x": "left"},
	}))
	if out["damage_location"] != nil {
		t.Errorf("malformed location should be dropped, got %v", out["damage_location"])
	}
	if out["finding"] != nil {
		t.Error("a supplied location, even malformed, skips classification")
	}
	if img, _ := out["image"].(string); img == "" {
		t.Error("annotated image missing")
	}
}

func TestHandleToolsCall_CachedPathNotDecodedAgain(t *testing.T) {
	s, _ := newTestServer(t)
	imgPath := createTestImageFile(t, 40, 30, color.White)

	first := toolResult(t, callTool(t, s, "lesion_segment", map[string]interface{}{"path": imgPath}))

	// Remove the file and spoil the cached bytes. A second call can only
	// succeed by reusing the cached raster.
	cached, err := s.cache.Load(imgPath)
	if err != nil {
		t.Fatal(err)
	}
	cached.Data = []byte("not an image")
	if err := os.Remove(imgPath); err != nil {
		t.Fatal(err)
	}

	second := toolResult(t, callTool(t, s, "lesion_segment", map[string]interface{}{"path": imgPath}))
	if second["width"] != first["width"] || second["height"] != first["height"] {
		t.Errorf("second call: %v x %v", second["width"], second["height"])
	}
	if s.cache.Len() != 1 {
		t.Errorf("cache has %d entries, want 1", s.cache.Len())
	}
}

func TestHandleToolsCall_Errors(t *testing.T) {
	s, _ := newTestServer(t)
	notImage := filepath.Join(t.TempDir(), "notes.txt")
	os.WriteFile(notImage, []byte("hello"), 0o644)

	tests := []struct {
		name     string
		tool     string
		args     map[string]interface{}
		wantCode int
	}{
		{"no image", "lesion_analyze", map[string]interface{}{}, -32602},
		{"missing file", "lesion_segment", map[string]interface{}{"path": "/nonexistent/scan.png"}, -32602},
		{"undecodable", "lesion_detect", map[string]interface{}{"path": notImage}, -32602},
		{"bad base64", "lesion_analyze", map[string]interface{}{"image_base64": "!!!"}, -32602},
		{"unknown report", "report_render", map[string]interface{}{"report_id": "nope"}, -32001},
		{"no report id", "report_render", map[string]interface{}{}, -32602},
		{"unknown tool", "image_ocr_full", map[string]interface{}{}, -32602},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := callTool(t, s, tt.tool, tt.args)
			if resp.Error == nil {
				t.Fatal("expected an error response")
			}
			if resp.Error.Code != tt.wantCode {
				t.Errorf("code: got %d, want %d (%v)", resp.Error.Code, tt.wantCode, resp.Error.Data)
			}
		})
	}
}

func TestHandleToolsCall_InvalidParams(t *testing.T) {
	s, _ := newTestServer(t)
	resp := s.handleRequest(context.Background(), &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  json.RawMessage(`"not an object"`),
	})
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Errorf("want -32602, got %+v", resp.Error)
	}
}

func submitArgs(imgPath string) map[string]interface{} {
	return map[string]interface{}{
		"path":            imgPath,
		"patient_id":      "P-42",
		"disorder":        "Fracture",
		"confidence":      0.93,
		"severity":        "Severe",
		"notes":           "Displaced fracture.",
		"recommendations": []string{"Cast", "Follow-up"},
		"damage_location": map[string]interface{}{"x": 0.2, "y": 0.2, "width": 0.4, "height": 0.4},
	}
}

func TestHandleToolsCall_ReportLifecycle(t *testing.T) {
	s, store := newTestServer(t)
	imgPath := createTestImageFile(t, 50, 50, color.Gray{Y: 100})

	args := submitArgs(imgPath)
	args["save_only"] = true
	saved := toolResult(t, callTool(t, s, "report_submit", args))
	id, _ := saved["report_id"].(string)
	if id == "" || saved["pdf_base64"] != nil {
		t.Fatalf("save_only result: %v", saved)
	}

	stored, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if stored.DoctorID != "dr-test" || stored.Confidence != 0.93 {
		t.Errorf("stored: %+v", stored)
	}
	if stored.Recommendations != "- Cast\n- Follow-up" {
		t.Errorf("recommendations: %q", stored.Recommendations)
	}

	list := toolResult(t, callTool(t, s, "report_list", map[string]interface{}{}))
	if list["count"] != float64(1) {
		t.Errorf("list: %v", list)
	}
	other := toolResult(t, callTool(t, s, "report_list", map[string]interface{}{"doctor_id": "someone-else"}))
	if other["count"] != float64(0) {
		t.Errorf("other doctor list: %v", other)
	}

	rendered := toolResult(t, callTool(t, s, "report_render", map[string]interface{}{"report_id": id}))
	pdf, err := base64.StdEncoding.DecodeString(rendered["pdf_base64"].(string))
	if err != nil || !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Errorf("rendered pdf: %v", err)
	}
}

func TestHandleToolsCall_ReportSubmitToFile(t *testing.T) {
	s, _ := newTestServer(t)
	imgPath := createTestImageFile(t, 30, 30, color.White)
	outPath := filepath.Join(t.TempDir(), "report.pdf")

	args := submitArgs(imgPath)
	args["confidence"] = "0.5"
	args["output_path"] = outPath
	out := toolResult(t, callTool(t, s, "report_submit", args))

	if out["pdf_path"] != outPath || out["pdf_base64"] != nil {
		t.Errorf("result: %v", out)
	}
	data, err := os.ReadFile(outPath)
	if err != nil || !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Errorf("pdf file: %v", err)
	}
}

func TestHandleToolsCall_ReportSubmitMissingField(t *testing.T) {
	s, store := newTestServer(t)
	args := submitArgs(createTestImageFile(t, 10, 10, color.White))
	delete(args, "notes")

	resp := callTool(t, s, "report_submit", args)
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Errorf("want -32602, got %+v", resp.Error)
	}
	if store.Len() != 0 {
		t.Error("nothing should be stored")
	}
}

func TestScalarText(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`0.93`, "0.93"},
		{`"0.93"`, "0.93"},
		{`["a","b"]`, `["a","b"]`},
		{`"free text"`, "free text"},
		{`null`, ""},
		{``, ""},
	}
	for _, tt := range tests {
		if got := scalarText(json.RawMessage(tt.raw)); got != tt.want {
			t.Errorf("scalarText(%s): got %q, want %q", tt.raw, got, tt.want)
		}
	}
}
