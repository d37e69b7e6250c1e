package logger

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/clbanning/mxj/v2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

const (
	headerContentType  = "Content-Type"
	representationXML  = "application/xml"
	representationJSON = "application/json"

	requestBanner  = ">>>>>>>>>>>>>>>>>>>>> Request >>>>>>>>>>>>>>>>>>> \n"
	responseBanner = "<<<<<<<<<<<<<<<<<<<<<< Response <<<<<<<<<<<<<<<<<<\n"
)

var jsonPrettyOptions = &pretty.Options{Width: 80, Prefix: "", Indent: "    ", SortKeys: true}

// PrettyBody formats body according to the Content-Type header: indented XML
// for application/xml, sorted and indented JSON for JSON media types and the
// raw body otherwise. Bodies that fail to parse are returned unchanged.
func PrettyBody(headers http.Header, body string) string {
	contentType := headers.Get(headerContentType)
	switch {
	case contentType == "":
		return body
	case contentType == representationXML:
		formatted, err := mxj.BeautifyXml([]byte(body), "", "    ")
		if err != nil {
			return body
		}
		return string(formatted)
	case strings.Contains(contentType, representationJSON):
		if !gjson.Valid(body) {
			return body
		}
		return strings.TrimRight(string(pretty.PrettyOptions([]byte(body), jsonPrettyOptions)), "\n")
	default:
		return body
	}
}

// FormatRequest renders an outgoing request the way LogRequest prints it.
func FormatRequest(method, target string, query url.Values, headers http.Header, body string) string {
	var b strings.Builder
	b.WriteString(requestBanner)
	fmt.Fprintf(&b, "\t> Method: %s\n", method)
	fmt.Fprintf(&b, "\t> Url: %s\n", target)
	if len(query) > 0 {
		fmt.Fprintf(&b, "\t> Query params: %v\n", map[string][]string(query))
	}
	if len(headers) > 0 {
		fmt.Fprintf(&b, "\t> Headers: %v\n", map[string][]string(headers))
	}
	if body != "" {
		fmt.Fprintf(&b, "\t> Payload sent:\n %s\n", PrettyBody(headers, body))
	}
	return b.String()
}

// FormatResponse renders a received response the way LogResponse prints it.
func FormatResponse(status int, headers http.Header, body string) string {
	var b strings.Builder
	b.WriteString(responseBanner)
	fmt.Fprintf(&b, "\t< Response code: %d\n", status)
	fmt.Fprintf(&b, "\t< Headers: %v\n", map[string][]string(headers))
	fmt.Fprintf(&b, "\t< Payload received:\n %s", PrettyBody(headers, body))
	return b.String()
}

// LogRequest writes a pretty-printed request at debug level.
func LogRequest(log Logger, method, target string, query url.Values, headers http.Header, body string) {
	log.Debug(FormatRequest(method, target, query, headers, body))
}

// LogResponse writes a pretty-printed response at debug level.
func LogResponse(log Logger, status int, headers http.Header, body string) {
	log.Debug(FormatResponse(status, headers, body))
}
