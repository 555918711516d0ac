package daemon

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

// Client talks to a running server over its unix socket. One connection,
// one request at a time.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
	enc  *json.Encoder
}

// Dial connects to the server socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("connect to server at %s: %w", path, err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn), enc: json.NewEncoder(conn)}, nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Run submits one argument vector for execution and returns its output.
// A non-empty server-side error comes back as a plain error.
func (c *Client) Run(args []string) (string, error) {
	resp, err := c.call(Request{Method: MethodRun, Args: args})
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return resp.Result, errors.New(resp.Error)
	}
	return resp.Result, nil
}

// Exit asks the server to shut down.
func (c *Client) Exit() error {
	resp, err := c.call(Request{Method: MethodExit})
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return nil
}

func (c *Client) call(req Request) (Response, error) {
	if err := c.enc.Encode(req); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}
