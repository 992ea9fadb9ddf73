package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
)

type fetchParams struct {
	URL      string `json:"url" jsonschema:"description=http or https URL to fetch"`
	MaxBytes int    `json:"max_bytes,omitempty" jsonschema:"description=Maximum bytes of body to return,minimum=0"`
}

func fetchTool(client *http.Client, maxBytes int) tools.Definition {
	return tools.Definition{
		Name:        "fetch_url",
		Description: "Fetch a URL over HTTP(S) and return the response body as text.",
		Parameters:  tools.ReflectSchema(&fetchParams{}),
		Risk:        models.RiskMedium,
		Category:    tools.CategoryWeb,
		Handler: tools.HandlerFunc(func(ctx context.Context, args map[string]string) (string, error) {
			return fetchURL(ctx, client, maxBytes, args)
		}),
	}
}

func parseFetchURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, tools.InvalidURL(raw)
	}
	return u, nil
}

func fetchURL(ctx context.Context, client *http.Client, maxBytes int, args map[string]string) (string, error) {
	u, err := parseFetchURL(args["url"])
	if err != nil {
		return "", err
	}
	limit, err := intArg(args, "max_bytes", maxBytes)
	if err != nil {
		return "", err
	}
	if limit <= 0 || limit > maxBytes {
		limit = maxBytes
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", tools.InvalidURL(args["url"])
	}
	req.Header.Set("User-Agent", "agentcore/1.0")
	resp, err := client.Do(req)
	if err != nil {
		return "", tools.CommandFailed(fmt.Sprintf("fetch %s: %v", u.Redacted(), err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(limit)+1))
	if err != nil {
		return "", tools.CommandFailed(fmt.Sprintf("read body: %v", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", tools.CommandFailed(fmt.Sprintf("%s returned HTTP %d", u.Redacted(), resp.StatusCode))
	}
	text, truncated := truncate(string(body), limit)
	if truncated {
		text += "\n[truncated]"
	}
	return text, nil
}
