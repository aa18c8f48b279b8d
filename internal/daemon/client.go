package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/jcdickinson/rsindex/internal/fragment"
	"github.com/jcdickinson/rsindex/internal/index"
	"github.com/jcdickinson/rsindex/internal/loader"
	"github.com/jcdickinson/rsindex/internal/rpc"
)

type Client struct {
	socketPath string
	httpClient *http.Client
}

func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 5 * time.Minute, // loading a large doc tree can be slow
		},
	}
}

// ConnectOrSpawn tries to connect to the daemon, spawning it if necessary.
func ConnectOrSpawn(socketPath string) (*Client, error) {
	client := NewClient(socketPath)

	if client.IsAvailable() {
		return client, nil
	}

	if err := Spawn(); err != nil {
		return nil, fmt.Errorf("spawning daemon: %w", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if client.IsAvailable() {
			return client, nil
		}
	}

	return nil, fmt.Errorf("daemon did not start within 5 seconds")
}

func (c *Client) IsAvailable() bool {
	conn, err := net.DialTimeout("unix", c.socketPath, 100*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (c *Client) RegisterImplementors(ctx context.Context, trait, module string, entries index.Contribution) (*rpc.RegisterResponse, error) {
	var resp rpc.RegisterResponse
	err := c.post(ctx, "/register-implementors", rpc.RegisterImplementorsRequest{Trait: trait, Module: module, Entries: entries}, &resp)
	return &resp, err
}

func (c *Client) RegisterSidebar(ctx context.Context, module string, items index.SidebarIndex) (*rpc.RegisterResponse, error) {
	var resp rpc.RegisterResponse
	err := c.post(ctx, "/register-sidebar", rpc.RegisterSidebarRequest{Module: module, Items: items}, &resp)
	return &resp, err
}

func (c *Client) RegisterFragment(ctx context.Context, f fragment.Fragment) (*rpc.RegisterResponse, error) {
	var resp rpc.RegisterResponse
	err := c.post(ctx, "/register-fragment", f, &resp)
	return &resp, err
}

func (c *Client) Activate(ctx context.Context) (*rpc.ActivateResponse, error) {
	var resp rpc.ActivateResponse
	err := c.post(ctx, "/activate", nil, &resp)
	return &resp, err
}

// Load asks the daemon to register every fragment under root, streaming
// progress messages to onProgress.
func (c *Client) Load(ctx context.Context, req rpc.LoadRequest, onProgress func(string)) (*loader.Stats, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", "http://unix/load", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("daemon returned %d: %s", resp.StatusCode, string(body))
	}

	dec := json.NewDecoder(resp.Body)
	for dec.More() {
		var line rpc.ProgressLine
		if err := dec.Decode(&line); err != nil {
			return nil, fmt.Errorf("decoding progress: %w", err)
		}
		switch line.Type {
		case "progress":
			if onProgress != nil {
				onProgress(line.Message)
			}
		case "error":
			return line.Stats, fmt.Errorf("loading %s: %s", req.Root, line.Message)
		case "result":
			return line.Stats, nil
		}
	}
	return nil, fmt.Errorf("daemon closed the stream without a result")
}

func (c *Client) Implementors(ctx context.Context, trait string) (*rpc.ImplementorsResponse, error) {
	var resp rpc.ImplementorsResponse
	err := c.post(ctx, "/implementors", rpc.ImplementorsRequest{Trait: trait}, &resp)
	return &resp, err
}

func (c *Client) Sidebar(ctx context.Context, module string) (*rpc.SidebarResponse, error) {
	var resp rpc.SidebarResponse
	err := c.post(ctx, "/sidebar", rpc.SidebarRequest{Module: module}, &resp)
	return &resp, err
}

func (c *Client) Status(ctx context.Context) (*rpc.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", "http://unix/status", nil)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("daemon returned %d: %s", httpResp.StatusCode, string(body))
	}

	var resp rpc.StatusResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}
	return &resp, nil
}

func (c *Client) Save(ctx context.Context) (*rpc.SaveResponse, error) {
	var resp rpc.SaveResponse
	err := c.post(ctx, "/save", nil, &resp)
	return &resp, err
}

func (c *Client) Shutdown(ctx context.Context) error {
	var resp map[string]string
	return c.post(ctx, "/shutdown", nil, &resp)
}

func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", "http://unix"+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}
