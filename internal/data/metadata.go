package data

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rescuewatch/rescue-monitor/internal/biz/repo"
)

// metadataRepo resolves restaurant names
type metadataRepo struct {
	api *APIClient
}

// NewMetadataRepo creates a new metadata repository
func NewMetadataRepo(api *APIClient) repo.MetadataRepo {
	return &metadataRepo{api: api}
}

type resInfoResponse struct {
	Results []struct {
		Snippet *struct {
			Items []struct {
				Title struct {
					Text string `json:"text"`
				} `json:"title"`
			} `json:"items"`
		} `json:"v4_image_text_snippet_type_3"`
	} `json:"results"`
}

// ResolveLabel returns the restaurant name, or "" when the response has
// none.
func (r *metadataRepo) ResolveLabel(ctx context.Context, targetID, token string) (string, error) {
	body := map[string]bool{"should_fetch_res_info_from_agg": true}
	resp, err := r.api.do(ctx, http.MethodPost, "/gw/menu/res_info/"+url.PathEscape(targetID), nil, body, token, nil)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", fmt.Errorf("res_info: HTTP %d", resp.status)
	}

	var info resInfoResponse
	if err := json.Unmarshal(resp.body, &info); err != nil {
		return "", fmt.Errorf("decode res_info: %w", err)
	}
	for _, result := range info.Results {
		if result.Snippet == nil || len(result.Snippet.Items) == 0 {
			continue
		}
		if name := result.Snippet.Items[0].Title.Text; name != "" {
			return name, nil
		}
	}
	return "", nil
}
