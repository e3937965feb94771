package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// imageProperties are the two ways a tool receives its image.
func imageProperties() map[string]interface{} {
	return map[string]interface{}{
		"path": map[string]interface{}{
			"type":        "string",
			"description": "Absolute path to the image file",
		},
		"image_base64": map[string]interface{}{
			"type":        "string",
			"description": "Image bytes as base64, optionally as a data: URI. Used when path is not set.",
		},
	}
}

func withImage(extra map[string]interface{}) map[string]interface{} {
	props := imageProperties()
	for k, v := range extra {
		props[k] = v
	}
	return props
}

var damageLocationSchema = map[string]interface{}{
	"type":        "object",
	"description": "Box as fractions of the image size, origin top-left",
	"properties": map[string]interface{}{
		"x":      map[string]interface{}{"type": "number"},
		"y":      map[string]interface{}{"type": "number"},
		"width":  map[string]interface{}{"type": "number"},
		"height": map[string]interface{}{"type": "number"},
	},
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Analysis
		{
			Name:        "lesion_analyze",
			Description: "Classify a radiograph: disorder, confidence, severity, notes, detailed analysis, recommendations and the damage location. Falls back to a mock finding (source \"mock\") when the model is unavailable.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": imageProperties(),
			},
		},
		{
			Name:        "lesion_detect",
			Description: "Run the object detector and return bounding boxes [x1,y1,x2,y2] in pixels with confidence and class. Returns an empty list when the detector is not loaded.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": imageProperties(),
			},
		},
		{
			Name:        "lesion_segment",
			Description: "Produce a per-pixel abnormality mask as a translucent RGBA PNG data URI the size of the image. Uses the dense model when loaded, otherwise filters detected regions.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": imageProperties(),
			},
		},
		{
			Name:        "lesion_annotate",
			Description: "Bake a red circle around the damage location (and optionally the mask) into a copy of the image. Without a damage_location the image is classified first.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": withImage(map[string]interface{}{
					"damage_location": damageLocationSchema,
					"with_mask": map[string]interface{}{
						"type":        "boolean",
						"description": "Paint the segmentation mask under the circle. Default false",
						"default":     false,
					},
					"label": map[string]interface{}{
						"type":        "string",
						"description": "Text written above the circle",
					},
				}),
			},
		},

		// Reports
		{
			Name:        "report_submit",
			Description: "Save a diagnostic report with its image and return the report id, plus the PDF unless save_only is set.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": withImage(map[string]interface{}{
					"patient_id":        map[string]interface{}{"type": "string"},
					"disorder":          map[string]interface{}{"type": "string"},
					"confidence":        map[string]interface{}{"type": []string{"number", "string"}},
					"severity":          map[string]interface{}{"type": "string"},
					"notes":             map[string]interface{}{"type": "string"},
					"detailed_analysis": map[string]interface{}{"type": "string"},
					"recommendations": map[string]interface{}{
						"type":        []string{"array", "string"},
						"description": "List of recommendations, or free text",
					},
					"damage_location": damageLocationSchema,
					"doctor_name":     map[string]interface{}{"type": "string"},
					"is_annotated_image": map[string]interface{}{
						"type":        "boolean",
						"description": "The image already carries a baked overlay; no circle is drawn on the page",
						"default":     false,
					},
					"save_only": map[string]interface{}{
						"type":    "boolean",
						"default": false,
					},
					"output_path": map[string]interface{}{
						"type":        "string",
						"description": "Write the PDF here instead of returning it as base64",
					},
				}),
				"required": []string{"patient_id", "disorder", "confidence", "severity", "notes"},
			},
		},
		{
			Name:        "report_list",
			Description: "List the reports of a doctor (at most 100), without their images.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"doctor_id": map[string]interface{}{
						"type":        "string",
						"description": "Defaults to the identity this server runs as",
					},
				},
			},
		},
		{
			Name:        "report_render",
			Description: "Regenerate the PDF of a stored report.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"report_id": map[string]interface{}{"type": "string"},
					"output_path": map[string]interface{}{
						"type":        "string",
						"description": "Write the PDF here instead of returning it as base64",
					},
				},
				"required": []string{"report_id"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
