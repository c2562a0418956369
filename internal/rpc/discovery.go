package rpc

import (
	"encoding/json"

	"github.com/google/uuid"
)

// DiscoveryResult is what the startup sequence produces.
type DiscoveryResult struct {
	Objects     []string
	ServerInfo  json.RawMessage
	PrinterInfo json.RawMessage
}

// Discover runs the startup sequence against a freshly connected daemon:
// identify, enumerate the remote object list, query server and printer info,
// then subscribe to the full object set. Each stage is chained through the
// success continuation of the previous Send, so the whole chain runs on the
// network goroutine. The first failing stage aborts the chain through
// onError.
func (c *Client) Discover(clientName, clientVersion string, onComplete func(*DiscoveryResult), onError ErrorFunc) {
	res := &DiscoveryResult{}
	fail := func(err *RPCError) {
		c.logger.Warn("discovery failed", "method", err.Method, "error", err)
		if onError != nil {
			onError(err)
		}
	}

	c.Send("server.connection.identify", map[string]any{
		"client_name": clientName,
		"version":     clientVersion,
		"type":        "agent",
		"url":         "",
		"uuid":        uuid.NewString(),
	}, func(*Response) {
		c.discoverObjects(res, onComplete, fail)
	}, fail, 0)
}

func (c *Client) discoverObjects(res *DiscoveryResult, onComplete func(*DiscoveryResult), fail ErrorFunc) {
	c.Send("printer.objects.list", nil, func(resp *Response) {
		var out struct {
			Objects []string `json:"objects"`
		}
		if err := json.Unmarshal(resp.Result, &out); err != nil {
			fail(&RPCError{Type: ErrParse, Method: "printer.objects.list", Message: err.Error()})
			return
		}
		res.Objects = out.Objects
		c.discoverServerInfo(res, onComplete, fail)
	}, fail, 0)
}

func (c *Client) discoverServerInfo(res *DiscoveryResult, onComplete func(*DiscoveryResult), fail ErrorFunc) {
	c.Send("server.info", nil, func(resp *Response) {
		res.ServerInfo = resp.Result
		c.discoverPrinterInfo(res, onComplete, fail)
	}, fail, 0)
}

func (c *Client) discoverPrinterInfo(res *DiscoveryResult, onComplete func(*DiscoveryResult), fail ErrorFunc) {
	c.Send("printer.info", nil, func(resp *Response) {
		res.PrinterInfo = resp.Result
		c.discoverSubscribe(res, onComplete, fail)
	}, fail, 0)
}

func (c *Client) discoverSubscribe(res *DiscoveryResult, onComplete func(*DiscoveryResult), fail ErrorFunc) {
	objects := make(map[string]any, len(res.Objects))
	for _, name := range res.Objects {
		objects[name] = nil
	}

	c.Send("printer.objects.subscribe", map[string]any{
		"objects": objects,
	}, func(*Response) {
		c.logger.Info("discovery complete", "objects", len(res.Objects))
		if onComplete != nil {
			onComplete(res)
		}
	}, fail, 0)
}
