// Package platform is a client for the remote object store that assets are
// uploaded to. Projects hold a folder tree, and files are created in a folder,
// uploaded in one part, and then closed.
package platform

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
)

// Object is a file in a folder listing
type Object struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Listing is the content of one folder: the full paths of its immediate
// subfolders, and its objects
type Listing struct {
	Folders []string `json:"folders"`
	Objects []Object `json:"objects"`
}

// HasFolder returns true if the listing has the passed folder path
func (l Listing) HasFolder(path string) bool {
	for _, f := range l.Folders {
		if strings.TrimSuffix(f, "/") == strings.TrimSuffix(path, "/") {
			return true
		}
	}
	return false
}

// apiError is the error body returned by the API
type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// idResponse is returned by the routes that create something
type idResponse struct {
	ID string `json:"id"`
}

// uploadResponse says where to PUT file content
type uploadResponse struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// Client talks to the API server
type Client struct {
	rc *resty.Client
}

// NewClient returns a client for the API server at 'apiServer' (like https://api.example.com)
// that authenticates with the passed bearer token.
func NewClient(apiServer, token string) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimSuffix(apiServer, "/")).
		SetHeader("Content-Type", "application/json").
		SetError(&apiError{})
	if token != "" {
		rc.SetAuthToken(token)
	}
	return &Client{rc: rc}
}

// CreateFolder creates the folder at 'path' in the project, including any missing parents.
func (c *Client) CreateFolder(ctx context.Context, project, path string) error {
	body := map[string]any{"folder": path, "parents": true}
	_, err := c.post(ctx, "/"+project+"/newFolder", body, nil)
	return err
}

// ListFolder lists the folder at 'path' in the project.
func (c *Client) ListFolder(ctx context.Context, project, path string) (Listing, error) {
	body := map[string]any{"folder": path}
	listing := Listing{}
	_, err := c.post(ctx, "/"+project+"/listFolder", body, &listing)
	return listing, err
}

// Upload creates a file named 'name' in 'folder' of the project, streams 'data' into it,
// and closes it. A hidden file is left out of folder listings. Returns the id of the
// new file.
func (c *Client) Upload(ctx context.Context, data io.Reader, name, project, folder string, hidden bool) (string, error) {
	created := idResponse{}
	body := map[string]any{"project": project, "folder": folder, "name": name, "parents": true, "hidden": hidden}
	if _, err := c.post(ctx, "/file/new", body, &created); err != nil {
		return "", err
	}
	log.Debugf("created file %s for %s:%s/%s", created.ID, project, folder, name)

	target := uploadResponse{}
	if _, err := c.post(ctx, "/"+created.ID+"/upload", map[string]any{"index": 1}, &target); err != nil {
		return "", err
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetHeaders(target.Headers).
		SetBody(data).
		Put(target.URL)
	if err != nil {
		return "", fmt.Errorf("upload of %s failed: %w", name, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("upload of %s failed with status %s", name, resp.Status())
	}
	if _, err := c.post(ctx, "/"+created.ID+"/close", map[string]any{}, nil); err != nil {
		return "", err
	}
	return created.ID, nil
}

// post posts the JSON body to the route and unmarshals the response into 'result' if
// it is not nil. API errors are returned as errors.
func (c *Client) post(ctx context.Context, route string, body any, result any) (*resty.Response, error) {
	req := c.rc.R().SetContext(ctx).SetBody(body)
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Post(route)
	if err != nil {
		return resp, fmt.Errorf("POST %s failed: %w", route, err)
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*apiError); ok && e.Error.Type != "" {
			return resp, fmt.Errorf("POST %s failed: %s: %s", route, e.Error.Type, e.Error.Message)
		}
		return resp, fmt.Errorf("POST %s failed with status %s", route, resp.Status())
	}
	return resp, nil
}
