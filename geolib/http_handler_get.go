package geolib

import (
	"net"
	"net/http"
)

// getIP takes an address from 'ip' query parameter. If it is absent, an
// address of the client is used.
func (h httpHandler) getIP(w http.ResponseWriter, req *http.Request) (net.IP, bool) {
	value := req.URL.Query().Get("ip")
	if value == "" {
		value = h.clientIP.TestableIP(req)
	}

	ip, err := ParseIPv4(value)
	if err != nil {
		h.sendError(w, err, "Invalid IP address", http.StatusBadRequest)

		return nil, false
	}

	return ip, true
}

func (h httpHandler) handleGetLookup(w http.ResponseWriter, req *http.Request) {
	ip, ok := h.getIP(w, req)
	if !ok {
		return
	}

	h.sendLookup(w, ip.String(), h.comparator.Lookup(req.Context(), ip))
}

func (h httpHandler) handleGetCompare(w http.ResponseWriter, req *http.Request) {
	ip, ok := h.getIP(w, req)
	if !ok {
		return
	}

	h.encodeJSON(w, compareResponse{
		ComparisonReport: h.comparator.Compare(req.Context(), ip),
	})
}
