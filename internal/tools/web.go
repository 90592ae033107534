package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const maxFetchBytes = 64 << 10

// WebFetch performs an HTTP GET and returns the body as text.
type WebFetch struct {
	Client *http.Client
}

func (WebFetch) Definition() Definition {
	return Definition{
		Name:        "web_fetch",
		Description: "Fetch the contents of a URL over HTTP(S)",
		Category:    "Web",
		InputSchema: Schema{
			Type: "object",
			Properties: map[string]Property{
				"url": {Type: "string", Description: "Absolute http or https URL"},
			},
			Required: []string{"url"},
		},
	}
}

func (t WebFetch) Execute(ctx context.Context, call Call) (Response, error) {
	raw, err := RequireString(call.Args, "url")
	if err != nil {
		return ErrorResult("%v", err), nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrorResult("Invalid URL: %s", raw), nil
	}
	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "toolgate/web_fetch")
	res, err := client.Do(req)
	if err != nil {
		return ErrorResult("Fetch failed: %v", err), nil
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, maxFetchBytes+1))
	if err != nil {
		return ErrorResult("Read failed: %v", err), nil
	}
	text := string(body)
	if len(body) > maxFetchBytes {
		text = string(body[:maxFetchBytes]) + "\n... [body truncated]"
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return ErrorResult("HTTP %d\n%s", res.StatusCode, text), nil
	}
	return TextResult(text), nil
}
