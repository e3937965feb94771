// Package server exposes the lesion analysis pipeline over two transports.
//
// # MCP
//
// Server speaks JSON-RPC 2.0 over stdio, one message per line:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// Tools take their image as either an absolute "path" or "image_base64":
//   - lesion_analyze: Classify the radiograph (disorder, severity, damage location)
//   - lesion_detect: Detector bounding boxes in pixels
//   - lesion_segment: Abnormality mask as an RGBA PNG data URI
//   - lesion_annotate: Bake the circle (and optional mask) into the image
//   - report_submit: Save a report and render its PDF
//   - report_list: List a doctor's reports
//   - report_render: Regenerate a stored report's PDF
//
// Images loaded by path are cached for the life of the process.
//
// Tool failures are JSON-RPC errors whose code follows the error kind:
// -32602 for undecodable images and bad arguments, -32001 for unknown
// reports, -32000 for everything else. Degraded stages (mock findings,
// missing detector, failed dense tier) are not errors.
//
// # HTTP
//
// HTTPServer serves the same operations as a REST API with multipart
// uploads in the "file" field:
//
//	POST /analyze   POST /detect   POST /segment   POST /annotate
//	POST /report[?save_only=true]
//	GET  /reports   GET /reports/{id}/download
//	GET  /health    GET /metrics
//
// The caller is identified by the X-Doctor-ID header. Errors are returned
// as {"detail": "..."} with 400, 404, 413 or 500.
package server
