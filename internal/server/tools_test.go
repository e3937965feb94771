package server

import (
	"testing"
)

func TestGetToolDefinitions(t *testing.T) {
	tools := GetToolDefinitions()

	if len(tools) == 0 {
		t.Fatal("GetToolDefinitions returned empty slice")
	}

	expectedTools := []string{
		"lesion_analyze",
		"lesion_detect",
		"lesion_segment",
		"lesion_annotate",
		"report_submit",
		"report_list",
		"report_render",
	}

	toolMap := make(map[string]Tool)
	for _, tool := range tools {
		toolMap[tool.Name] = tool
	}

	for _, name := range expectedTools {
		if _, ok := toolMap[name]; !ok {
			t.Errorf("Expected tool %s not found", name)
		}
	}
	if len(tools) != len(expectedTools) {
		t.Errorf("got %d tools, want %d", len(tools), len(expectedTools))
	}
}

func TestToolDefinitions_Structure(t *testing.T) {
	for _, tool := range GetToolDefinitions() {
		t.Run(tool.Name, func(t *testing.T) {
			if tool.Description == "" {
				t.Error("Tool description is empty")
			}
			if tool.InputSchema["type"] != "object" {
				t.Errorf("InputSchema type: got %v, want object", tool.InputSchema["type"])
			}
			props, ok := tool.InputSchema["properties"].(map[string]interface{})
			if !ok {
				t.Fatal("InputSchema properties should be a map")
			}

			// Every required field must be declared.
			if required, ok := tool.InputSchema["required"].([]string); ok {
				for _, field := range required {
					if _, ok := props[field]; !ok {
						t.Errorf("required field %s is not a property", field)
					}
				}
			}
		})
	}
}

func TestImageTools_AcceptPathOrBase64(t *testing.T) {
	imageTools := map[string]bool{
		"lesion_analyze":  true,
		"lesion_detect":   true,
		"lesion_segment":  true,
		"lesion_annotate": true,
		"report_submit":   true,
	}

	for _, tool := range GetToolDefinitions() {
		if !imageTools[tool.Name] {
			continue
		}
		props := tool.InputSchema["properties"].(map[string]interface{})
		for _, field := range []string{"path", "image_base64"} {
			if _, ok := props[field]; !ok {
				t.Errorf("%s lacks %s", tool.Name, field)
			}
		}
	}
}

func TestImageProperties_NotShared(t *testing.T) {
	annotate := withImage(map[string]interface{}{"label": true})
	plain := imageProperties()
	if _, leaked := plain["label"]; leaked {
		t.Error("withImage must not modify other tools' schemas")
	}
	if _, ok := annotate["path"]; !ok {
		t.Error("withImage should keep the image properties")
	}
}
