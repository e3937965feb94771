package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ironsheep/orthoscan/internal/apperr"
	"github.com/ironsheep/orthoscan/internal/geometry"
)

const prompt = `You are reviewing a medical X-ray as an expert radiologist. Identify bone disorders, fractures or other abnormalities.
Reply with a single JSON object and nothing else, using these keys:
- disorder: name of the detected disorder, or "Healthy".
- confidence: number between 0 and 1.
- severity: "Mild", "Moderate" or "Severe", or "None" when healthy.
- notes: short summary of the findings, at most two sentences.
- detailed_analysis: technical description of the visual findings, naming the bone structures involved.
- recommendations: list of 3 to 5 next steps or treatments.
- damage_location: object with x, y, width, height as fractions (0.0 to 1.0) of the image size, top-left origin, bounding the primary issue; null when there is none or you are unsure.`

// GeminiClient calls the Gemini generateContent REST endpoint.
type GeminiClient struct {
	apiKey   string
	model    string
	endpoint string
	http     *http.Client
}

// NewGemini returns a client for model at endpoint
// (e.g. https://generativelanguage.googleapis.com/v1beta). A nil httpClient
// uses http.DefaultClient.
func NewGemini(apiKey, model, endpoint string, httpClient *http.Client) *GeminiClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GeminiClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     httpClient,
	}
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Analyze sends the image and prompt to the model and parses its reply.
// Every failure carries apperr.OracleFailure.
func (g *GeminiClient) Analyze(ctx context.Context, data []byte, mimeType string) (*Finding, error) {
	if g.apiKey == "" {
		return nil, apperr.E(apperr.OracleFailure, "analyze", fmt.Errorf("no api key configured"))
	}

	reqBody, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{
			{Text: prompt},
			{InlineData: &inlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(data)}},
		}}},
		GenerationConfig: generationConfig{ResponseMimeType: "application/json"},
	})
	if err != nil {
		return nil, apperr.E(apperr.OracleFailure, "analyze", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.endpoint, url.PathEscape(g.model), url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, apperr.E(apperr.OracleFailure, "analyze", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		// The URL carries the key; keep it out of logs.
		return nil, apperr.E(apperr.OracleFailure, "analyze", fmt.Errorf("send request: %w", unwrapURLError(err)))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, apperr.E(apperr.OracleFailure, "analyze", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.E(apperr.OracleFailure, "analyze", fmt.Errorf("model returned status %d", resp.StatusCode))
	}

	var gen generateResponse
	if err := json.Unmarshal(body, &gen); err != nil {
		return nil, apperr.E(apperr.OracleFailure, "analyze", fmt.Errorf("decode response: %w", err))
	}
	if len(gen.Candidates) == 0 {
		return nil, apperr.E(apperr.OracleFailure, "analyze", fmt.Errorf("model returned no candidates"))
	}

	var text strings.Builder
	for _, p := range gen.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}

	finding, err := ParseFinding(text.String())
	if err != nil {
		return nil, apperr.E(apperr.OracleFailure, "analyze", err)
	}
	finding.Source = SourceModel
	return finding, nil
}

// ParseFinding decodes a model reply. Markdown code fences are stripped.
// Field types are checked one by one: a wrong-typed optional field is
// dropped, and a missing, empty or unusable damage_location becomes
// DefaultLocation. Only a reply that is not a JSON object, or lacks a
// disorder, is an error.
func ParseFinding(text string) (*Finding, error) {
	text = stripFences(text)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("reply is not a JSON object: %w", err)
	}

	f := &Finding{}
	f.Disorder = stringField(raw["disorder"])
	if f.Disorder == "" {
		return nil, fmt.Errorf("reply has no disorder")
	}
	f.Confidence = confidenceField(raw["confidence"])
	f.Severity = stringField(raw["severity"])
	f.Notes = stringField(raw["notes"])
	f.DetailedAnalysis = stringField(raw["detailed_analysis"])
	f.Recommendations = listField(raw["recommendations"])

	loc, err := geometry.ParseNormalizedBox(raw["damage_location"])
	if err != nil || loc == nil || *loc == (geometry.NormalizedBox{}) {
		def := DefaultLocation
		loc = &def
	}
	f.DamageLocation = loc
	return f, nil
}

func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

func stringField(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// confidenceField accepts a number or numeric string. Values above 1 and up
// to 100 are read as percentages; the result is clamped to [0,1].
func confidenceField(raw json.RawMessage) float64 {
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		v = parsed
	}
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 && v <= 100 {
		v /= 100
	}
	return math.Max(0, math.Min(1, v))
}

// listField accepts a list of strings or a single newline-separated string.
func listField(raw json.RawMessage) []string {
	var list []interface{}
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return []string{}
	}
	out := []string{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func unwrapURLError(err error) error {
	if uerr, ok := err.(*url.Error); ok {
		return uerr.Err
	}
	return err
}
