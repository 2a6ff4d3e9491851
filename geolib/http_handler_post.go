package geolib

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/qri-io/jsonschema"
)

const maxRequestBodySize = 64 * 1024

var handlePostLookupJSONSchema = mustParseJSONSchema(`{
    "type": "object",
    "required": [
        "ip"
    ],
    "additionalProperties": false,
    "properties": {
        "ip": {
            "type": "string",
            "format": "ipv4",
            "minLength": 7,
            "maxLength": 15
        }
    }
}`)

var handlePostCompareJSONSchema = mustParseJSONSchema(`{
    "type": "object",
    "required": [
        "ip"
    ],
    "additionalProperties": false,
    "properties": {
        "ip": {
            "type": "string",
            "format": "ipv4",
            "minLength": 7,
            "maxLength": 15
        },
        "targetLocation": {
            "type": "object",
            "additionalProperties": false,
            "properties": {
                "country": {
                    "type": "string"
                },
                "city": {
                    "type": "string"
                }
            }
        }
    }
}`)

type handlePostRequest struct {
	IP             string          `json:"ip"`
	TargetLocation *targetLocation `json:"targetLocation"`
}

type targetLocation struct {
	Country string `json:"country"`
	City    string `json:"city"`
}

// Matches checks if a record is at the target location. Country could
// be given either as a code or as a name, cities are compared
// phonetically. Empty fields of the target match anything.
func (t *targetLocation) Matches(record *Record) bool {
	if record == nil {
		return false
	}

	if t.Country != "" && !SameCountry(StringValue(record.CountryCode), t.Country) {
		return false
	}

	if t.City != "" && !SameCity(StringValue(record.City), t.City) {
		return false
	}

	return true
}

func (h httpHandler) handlePostLookup(w http.ResponseWriter, req *http.Request) {
	parsed, ip, ok := h.parsePostRequest(w, req, handlePostLookupJSONSchema)
	if !ok {
		return
	}

	h.sendLookup(w, parsed.IP, h.comparator.Lookup(req.Context(), ip))
}

func (h httpHandler) handlePostCompare(w http.ResponseWriter, req *http.Request) {
	parsed, ip, ok := h.parsePostRequest(w, req, handlePostCompareJSONSchema)
	if !ok {
		return
	}

	resp := compareResponse{
		ComparisonReport: h.comparator.Compare(req.Context(), ip),
	}

	if parsed.TargetLocation != nil {
		resp.TargetMatches = make(map[string]bool, len(resp.Results))

		for _, v := range resp.Results {
			resp.TargetMatches[v.Backend] = v.OK() && parsed.TargetLocation.Matches(v.Record)
		}
	}

	h.encodeJSON(w, resp)
}

func (h httpHandler) parsePostRequest(w http.ResponseWriter,
	req *http.Request,
	schema *jsonschema.Schema) (*handlePostRequest, net.IP, bool) {
	if !strings.Contains(req.Header.Get("Content-Type"), "application/json") {
		h.sendError(w, nil, "Incorrect content type", http.StatusUnsupportedMediaType)

		return nil, nil, false
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBodySize))

	req.Body.Close()

	if err != nil {
		h.sendError(w, err, "Cannot read request body", http.StatusBadRequest)

		return nil, nil, false
	}

	errs, err := schema.ValidateBytes(req.Context(), bodyBytes)
	if err != nil {
		h.sendError(w, err, "Cannot parse request JSON", http.StatusBadRequest)

		return nil, nil, false
	}

	if len(errs) > 0 {
		h.sendError(w, errs[0], "Invalid request body", http.StatusBadRequest)

		return nil, nil, false
	}

	parsedRequest := &handlePostRequest{}
	if err := json.Unmarshal(bodyBytes, parsedRequest); err != nil {
		h.sendError(w, err, "Cannot parse request JSON", http.StatusBadRequest)

		return nil, nil, false
	}

	ip, err := ParseIPv4(parsedRequest.IP)
	if err != nil {
		h.sendError(w, err, "Invalid IP address", http.StatusBadRequest)

		return nil, nil, false
	}

	return parsedRequest, ip, true
}

func mustParseJSONSchema(data string) *jsonschema.Schema {
	rv := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(data), rv); err != nil {
		panic(err)
	}

	return rv
}
