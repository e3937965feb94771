// Package detection adapts an object-detection capability into lists of
// candidate lesion regions.
//
// A Detection is one candidate: a pixel-space bounding box (x1, y1, x2, y2),
// a confidence in [0,1], a class label and its numeric id. The order of a
// returned list is whatever the inference service produced; it is not sorted
// by confidence and ties may reorder between calls.
//
// # Availability
//
// The detector's health is checked once at startup. When that fails, callers get
// a Detector whose Available reports false and whose Detect returns an empty
// list with an apperr.ModelUnavailable error. Callers check availability and
// degrade (skip detection) rather than failing the request.
//
// # Inference Service
//
// HTTPDetector talks to an inference service over HTTP. The image is posted
// as a PNG in a multipart form field named "file"; the reply is
//
//	{"detections": [{"bbox": [x1,y1,x2,y2], "confidence": 0.91, "class": "fracture", "class_id": 0}]}
//
// Detect never mutates the input image.
package detection
