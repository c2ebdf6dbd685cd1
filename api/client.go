// Package api provides a client for accessing the oracle services through its
// JSON-RPC API.
package api

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"time"

	jsonrpc "github.com/gorilla/rpc/json"
	"github.com/pkg/errors"

	est "github.com/conroydamien/eth-squid-station/estimate"
	"github.com/conroydamien/eth-squid-station/publish"
)

type Config struct {
	Host    string
	Port    string
	Timeout int // seconds
}

// WaitTime is the expected confirmation time of a gas price.
type WaitTime struct {
	GasPrice           float64 `json:"gasprice"` // gwei, of the prediction table row
	HashpowerAccepting int     `json:"hashpower_accepting"`
	ExpectedBlocks     int64   `json:"expected_blocks"`
	ExpectedMinutes    float64 `json:"expected_minutes"`

	// True if ExpectedBlocks comes from the confirmation model rather than
	// the prediction table.
	Model    bool  `json:"model"`
	BlockNum int64 `json:"blockNum"`
}

type Client struct {
	httpclient *http.Client
	cfg        Config
}

func NewClient(cfg Config) *Client {
	httpclient := &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}
	return &Client{httpclient: httpclient, cfg: cfg}
}

func (c *Client) Stop() error {
	_, err := c.doRPC("stop", nil)
	return err
}

func (c *Client) Status() (map[string]string, error) {
	var result map[string]string
	if err := c.call("status", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) GasPrice() (est.Recommendation, error) {
	var result est.Recommendation
	err := c.call("gasprice", nil, &result)
	return result, err
}

func (c *Client) PredictTable() ([]publish.PredictRow, error) {
	var result []publish.PredictRow
	if err := c.call("predicttable", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) WaitTime(gwei float64) (*WaitTime, error) {
	result := new(WaitTime)
	if err := c.call("waittime", gwei, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) ConfirmTable() (*publish.ConfirmDoc, error) {
	result := new(publish.ConfirmDoc)
	if err := c.call("confirmtable", nil, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) SetDebug(d bool) error {
	_, err := c.doRPC("setdebug", d)
	return err
}

func (c *Client) Config() (map[string]interface{}, error) {
	v := make(map[string]interface{})
	if err := c.call("config", nil, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *Client) Metrics() (map[string]interface{}, error) {
	v := make(map[string]interface{})
	if err := c.call("metrics", nil, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *Client) call(method string, args interface{}, result interface{}) error {
	r, err := c.doRPC(method, args)
	if err != nil {
		return err
	}
	return errors.Wrapf(json.Unmarshal(r, result), "decode %s result", method)
}

func (c *Client) doRPC(method string, args interface{}) (json.RawMessage, error) {
	b, err := jsonrpc.EncodeClientRequest(method, args)
	if err != nil {
		return nil, errors.Wrap(err, "jsonrpc.EncodeClientRequest")
	}

	url := "http://" + net.JoinHostPort(c.cfg.Host, c.cfg.Port)
	req, err := http.NewRequest("POST", url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpclient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var m json.RawMessage
	if err := jsonrpc.DecodeClientResponse(resp.Body, &m); err != nil {
		return nil, errors.Wrap(err, method)
	}
	return m, nil
}
