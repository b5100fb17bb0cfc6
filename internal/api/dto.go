package api

import "encoding/json"

// hashCheckResponse is the wire shape for POST /v1/hash_check.
type hashCheckResponse struct {
	New   []string `json:"new"`
	Queue []string `json:"queue"`
}

// ocrResponse is the wire shape for POST /v1/ocr.
type ocrResponse struct {
	OCR map[string]json.RawMessage `json:"ocr"`
	New []string                   `json:"new"`
}

// makeHTMLRequest is the wire shape for POST /v1/make_html. PageMap pairs
// are [image_path, hash]. JSON decoding into [2]string does not check
// arity: elements beyond the second are ignored, and a pair with fewer
// than two elements leaves the hash empty, which then fails hash
// validation.
type makeHTMLRequest struct {
	Title   string      `json:"title"`
	PageMap [][2]string `json:"page_map"`
}

// errorBody is the {"error": "..."} shape used on every failure response.
type errorBody struct {
	Error string `json:"error"`
}

// orEmpty turns a nil slice into an empty (non-null) one: the wire
// format uses `[]`, not `null`, for an empty partition.
func orEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
