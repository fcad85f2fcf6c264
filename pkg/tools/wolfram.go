package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/errors"
)

const (
	WolframName           = "wolfram_alpha"
	DefaultWolframBaseURL = "http://api.wolframalpha.com/v2/query"
	placeholderAppID      = "YOUR_APP_ID_HERE"
	maxSuggestions        = 3
)

// WolframPod is one plaintext result section.
type WolframPod struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// WolframResult is the parsed answer to a query.
type WolframResult struct {
	Query  string       `json:"query"`
	Pods   []WolframPod `json:"pods"`
	Images int          `json:"images"`
	Timing float64      `json:"timing"`
}

// Wolfram queries the Wolfram|Alpha v2 API.
type Wolfram struct {
	core.BaseTool
	appID   string
	baseURL string
	client  *http.Client
}

// WolframOption configures the Wolfram tool.
type WolframOption func(*Wolfram)

// WithWolframBaseURL points the tool at another endpoint.
func WithWolframBaseURL(u string) WolframOption {
	return func(w *Wolfram) {
		w.baseURL = u
	}
}

// WithWolframClient sets the HTTP client.
func WithWolframClient(c *http.Client) WolframOption {
	return func(w *Wolfram) {
		w.client = c
	}
}

// NewWolfram creates the tool. Without an app id every call fails
// validation.
func NewWolfram(appID string, opts ...WolframOption) *Wolfram {
	w := &Wolfram{
		BaseTool: core.NewBaseTool(WolframName,
			"Query Wolfram Alpha for complex math, physics, chemistry, real-world data, unit conversions, and scientific computations").
			WithInputSchema(map[string]string{"query": "string"}).
			WithCapabilities("knowledge", "symbolic"),
		appID:   appID,
		baseURL: DefaultWolframBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Configured reports whether an app id is set.
func (w *Wolfram) Configured() bool {
	return w.appID != "" && w.appID != placeholderAppID
}

func (w *Wolfram) Validate(params map[string]any) bool {
	query, ok := params["query"].(string)
	return ok && strings.TrimSpace(query) != "" && w.Configured()
}

func (w *Wolfram) Execute(ctx context.Context, params map[string]any) (any, error) {
	query := params["query"].(string)

	values := url.Values{}
	values.Set("input", query)
	values.Set("appid", w.appID)
	values.Set("output", "json")
	values.Set("format", "plaintext,image")
	values.Set("podstate", "Step-by-step solution")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"?"+values.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ToolExecutionFailed, "failed to build request")
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.ToolExecutionFailed, "network error"),
			errors.Fields{"query": query},
		)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ToolExecutionFailed, "failed to read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.WithFields(
			errors.Errorf(errors.ToolExecutionFailed, "API request failed with status %d", resp.StatusCode),
			errors.Fields{"query": query},
		)
	}

	return parseWolframResponse(query, body)
}

func parseWolframResponse(query string, body []byte) (*WolframResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New(errors.InvalidResponse, "invalid API response")
	}
	qr := gjson.GetBytes(body, "queryresult")
	if !qr.Exists() {
		return nil, errors.New(errors.InvalidResponse, "invalid API response")
	}

	if !qr.Get("success").Bool() {
		msg := qr.Get("error.msg").String()
		if msg == "" {
			msg = "Query failed"
		}
		if suggestions := wolframSuggestions(qr.Get("didyoumeans")); len(suggestions) > 0 {
			msg += "; did you mean: " + strings.Join(suggestions, ", ")
		}
		return nil, errors.WithFields(
			errors.New(errors.ToolExecutionFailed, msg),
			errors.Fields{"query": query},
		)
	}

	result := &WolframResult{Query: query, Timing: qr.Get("timing").Float()}
	qr.Get("pods").ForEach(func(_, pod gjson.Result) bool {
		title := pod.Get("title").String()
		if title == "" {
			title = "Result"
		}
		pod.Get("subpods").ForEach(func(_, sub gjson.Result) bool {
			if sub.Get("img.src").String() != "" {
				result.Images++
			}
			if text := sub.Get("plaintext").String(); text != "" {
				result.Pods = append(result.Pods, WolframPod{Title: title, Text: text})
			}
			return true
		})
		return true
	})

	if len(result.Pods) == 0 {
		return nil, errors.WithFields(
			errors.New(errors.ToolExecutionFailed, "no plaintext results"),
			errors.Fields{"query": query},
		)
	}
	return result, nil
}

// wolframSuggestions reads didyoumeans, which the API sends either as one
// object or as an array of objects.
func wolframSuggestions(v gjson.Result) []string {
	var out []string
	collect := func(item gjson.Result) {
		if s := item.Get("val").String(); s != "" && len(out) < maxSuggestions {
			out = append(out, s)
		}
	}
	if v.IsArray() {
		v.ForEach(func(_, item gjson.Result) bool {
			collect(item)
			return len(out) < maxSuggestions
		})
	} else if v.IsObject() {
		collect(v)
	}
	return out
}

func (w *Wolfram) Format(result any) string {
	r, ok := result.(*WolframResult)
	if !ok {
		return fmt.Sprint(result)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Wolfram Alpha results for: '%s'\n\n", r.Query)
	for _, pod := range r.Pods {
		fmt.Fprintf(&sb, "[%s]\n%s\n\n", pod.Title, pod.Text)
	}
	if r.Images > 0 {
		fmt.Fprintf(&sb, "Generated %d visualization(s)\n", r.Images)
	}
	fmt.Fprintf(&sb, "Query time: %gs", r.Timing)
	return strings.TrimSpace(sb.String())
}
