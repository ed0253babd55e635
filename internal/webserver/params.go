package webserver

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/evantahler/bun-actionhero-sub000/internal/actionerr"
)

// queryParams flattens url.Values the way MergeParams expects: a single
// value collapses to a scalar, repeated keys become a list.
func queryParams(r *http.Request) map[string]any {
	out := map[string]any{}
	for k, v := range r.URL.Query() {
		if len(v) == 1 {
			out[k] = v[0]
			continue
		}
		list := make([]any, len(v))
		for i, s := range v {
			list[i] = s
		}
		out[k] = list
	}
	return out
}

// bodyParams decodes the request body per its declared content type:
// JSON object fields by default, multipart form fields/files when an
// action takes a file input (spec §6: "JSON request/response by
// default, multipart accepted for file inputs"). A malformed body is
// reported rather than swallowed (spec §4.1 item 3: "Reject malformed
// bodies with ACTION_RUN (500)").
func bodyParams(c *gin.Context) (map[string]any, error) {
	ct := c.GetHeader("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mediaType = ct
	}

	switch {
	case strings.HasPrefix(mediaType, "multipart/form-data"):
		return multipartParams(c)
	case mediaType == "application/json":
		if c.Request.ContentLength == 0 {
			return map[string]any{}, nil
		}
		var out map[string]any
		if err := json.NewDecoder(c.Request.Body).Decode(&out); err != nil {
			return nil, actionerr.New(actionerr.ActionRun, fmt.Sprintf("malformed request body: %s", err)).WithCause(err)
		}
		return out, nil
	default:
		return map[string]any{}, nil
	}
}

func multipartParams(c *gin.Context) (map[string]any, error) {
	out := map[string]any{}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, actionerr.New(actionerr.ActionRun, fmt.Sprintf("malformed multipart body: %s", err)).WithCause(err)
	}
	for k, values := range form.Value {
		if len(values) == 1 {
			out[k] = values[0]
			continue
		}
		list := make([]any, len(values))
		for i, v := range values {
			list[i] = v
		}
		out[k] = list
	}
	for k, files := range form.File {
		if len(files) == 0 {
			continue
		}
		fh := files[0]
		out[k] = map[string]any{
			"name": fh.Filename,
			"type": fh.Header.Get("Content-Type"),
			"size": fh.Size,
		}
	}
	return out, nil
}
