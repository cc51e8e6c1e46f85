// Package notification turns conversation activity into best-effort pushes:
// a bounded queue in front of rate limited workers talking to an HTTP gateway.
package notification

import (
	"atme/domain"
	"atme/errors"
	"context"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/valyala/fasthttp"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// GatewayConfig is read from PUSH_ prefixed variables.
type GatewayConfig struct {
	URL       string        `envconfig:"URL" default:"https://fcm.googleapis.com/fcm/send"`
	ServerKey string        `envconfig:"SERVER_KEY"`
	Timeout   time.Duration `envconfig:"TIMEOUT" default:"5s"`
	Rate      float64       `envconfig:"RATE" default:"50"`
	Burst     int           `envconfig:"BURST" default:"10"`
	Sound     string        `envconfig:"SOUND" default:"default"`
}

func LoadGatewayConfig() (GatewayConfig, error) {
	var cfg GatewayConfig
	err := envconfig.Process("PUSH", &cfg)
	return cfg, err
}

// Gateway posts notifications in the legacy FCM shape:
// {"to": token, "notification": {"title", "body", "sound"}}.
type Gateway struct {
	cfg    GatewayConfig
	client *fasthttp.Client
}

func NewGateway(cfg GatewayConfig, client *fasthttp.Client) *Gateway {
	if client == nil {
		client = &fasthttp.Client{Name: "atme-push"}
	}
	return &Gateway{cfg: cfg, client: client}
}

func (g *Gateway) Push(ctx context.Context, notification domain.Notification) error {
	body, err := payload(notification, g.cfg.Sound)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrPushRejected, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(g.cfg.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if g.cfg.ServerKey != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "key="+g.cfg.ServerKey)
	}
	req.SetBody(body)

	if err := g.do(ctx, req, resp); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrPushRejected, err)
	}
	if status := resp.StatusCode(); status != fasthttp.StatusOK {
		return fmt.Errorf("%w: status %d: %s", errors.ErrPushRejected, status, resp.Body())
	}
	return nil
}

// do bounds the request by the configured timeout and the context deadline,
// whichever comes first. A Timeout of zero or less means no gateway timeout.
func (g *Gateway) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	deadline, bounded := ctx.Deadline()
	if g.cfg.Timeout > 0 {
		if own := time.Now().Add(g.cfg.Timeout); !bounded || own.Before(deadline) {
			deadline, bounded = own, true
		}
	}
	if !bounded {
		return g.client.Do(req, resp)
	}
	return g.client.DoDeadline(req, resp, deadline)
}

func payload(notification domain.Notification, sound string) ([]byte, error) {
	fields := map[string]any{
		"title": notification.Title,
		"body":  notification.Body,
	}
	if sound != "" {
		fields["sound"] = sound
	}
	message, err := structpb.NewStruct(map[string]any{
		"to":           notification.Token,
		"notification": fields,
	})
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(message)
}
