package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
)

// maxBodyBytes caps request bodies. Danmaku submissions and import requests
// are tiny; the cap only guards against runaway payloads.
const maxBodyBytes = 8 << 20

// DecodeJSON decodes a request body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
