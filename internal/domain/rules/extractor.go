package rules

import (
	"encoding/json"
	"net"
	"net/url"
	"strings"

	"github.com/merrymaker/scanner/internal/domain/model"
)

// webRequestShape covers the URL-bearing payload shapes the browser worker
// emits for web-request events, without overfitting to one exact schema.
type webRequestShape struct {
	URL      string `json:"url"`
	Request  struct {
		URL string `json:"url"`
	} `json:"request"`
	Response struct {
		URL string `json:"url"`
	} `json:"response"`
	Body string `json:"body"`
}

// extractHost pulls the request/response host out of a web-request event's
// payload. Returns the lower-cased host without port, and true on success.
func extractHost(event model.ScanEvent) (string, bool) {
	if event.Type != model.ScanEventWebRequest || len(event.Payload) == 0 {
		return "", false
	}
	var shape webRequestShape
	if err := json.Unmarshal(event.Payload, &shape); err != nil {
		return "", false
	}

	raw := strings.TrimSpace(shape.Request.URL)
	if raw == "" {
		raw = strings.TrimSpace(shape.URL)
	}
	if raw == "" {
		raw = strings.TrimSpace(shape.Response.URL)
	}
	if raw == "" {
		return "", false
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		if strings.Contains(raw, "://") {
			return "", false
		}
		prefixed := raw
		if strings.HasPrefix(prefixed, "//") {
			prefixed = "http:" + prefixed
		} else {
			prefixed = "http://" + prefixed
		}
		parsed, err = url.Parse(prefixed)
		if err != nil || parsed.Host == "" {
			return "", false
		}
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", false
	}
	return host, true
}

// extractPayloadBytes pulls the raw script/response body carried on
// web-request and js-call events, for the payload matcher rule (§4.5).
func extractPayloadBytes(event model.ScanEvent) []byte {
	if event.Type != model.ScanEventWebRequest && event.Type != model.ScanEventJSCall {
		return nil
	}
	if len(event.Payload) == 0 {
		return nil
	}
	var shape webRequestShape
	if err := json.Unmarshal(event.Payload, &shape); err != nil {
		return event.Payload
	}
	if shape.Body != "" {
		return []byte(shape.Body)
	}
	return event.Payload
}

// classifyHost reports whether host is an IP literal or an FQDN, for
// building IOC lookup keys and alert context (§3).
func classifyHost(host string) model.IOCType {
	if net.ParseIP(host) != nil {
		return model.IOCTypeIP
	}
	return model.IOCTypeFQDN
}
