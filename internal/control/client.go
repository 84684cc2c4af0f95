package control

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the control server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Tether.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sessions lists registered companions.
func (c *Client) Sessions() (*SessionsResponse, error) {
	var resp SessionsResponse
	if err := c.client.Call("Tether.Sessions", SessionsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Terminals lists live terminal sessions.
func (c *Client) Terminals() (*TerminalsResponse, error) {
	var resp TerminalsResponse
	if err := c.client.Call("Tether.Terminals", TerminalsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Failures lists failure reports matching req.
func (c *Client) Failures(req FailuresRequest) (*FailuresResponse, error) {
	var resp FailuresResponse
	if err := c.client.Call("Tether.Failures", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
