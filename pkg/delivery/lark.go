package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

type messageCreator interface {
	Create(ctx context.Context, req *larkIm.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkIm.CreateMessageResp, error)
}

// LarkConfig holds the bot credentials. BaseURL overrides the open platform
// domain; empty means the public Lark endpoint.
type LarkConfig struct {
	AppID     string
	AppSecret string
	BaseURL   string
}

// LarkDeliverer sends text messages to users addressed by email through a Lark bot.
type LarkDeliverer struct {
	messages messageCreator
	logger   *zap.Logger
}

// NewLarkDeliverer builds a deliverer backed by the Lark SDK client.
func NewLarkDeliverer(cfg LarkConfig, logger *zap.Logger) *LarkDeliverer {
	opts := []lark.ClientOptionFunc{
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lark.WithOpenBaseUrl(strings.TrimRight(cfg.BaseURL, "/")))
	}
	client := lark.NewClient(cfg.AppID, cfg.AppSecret, opts...)
	return newLarkDeliverer(client.Im.Message, logger)
}

func newLarkDeliverer(messages messageCreator, logger *zap.Logger) *LarkDeliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LarkDeliverer{messages: messages, logger: logger}
}

// Deliver sends message as a text message to the user owning the email address.
func (d *LarkDeliverer) Deliver(ctx context.Context, address, message string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("lark delivery: empty address")
	}
	content, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return fmt.Errorf("lark delivery: encode content: %w", err)
	}

	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType("email").
		Body(larkIm.NewCreateMessageReqBodyBuilder().
			ReceiveId(address).
			MsgType("text").
			Content(string(content)).
			Build()).
		Build()

	resp, err := d.messages.Create(ctx, req)
	if err != nil {
		d.logger.Warn("lark message send failed", zap.String("address", address), zap.Error(err))
		return fmt.Errorf("lark delivery: %w", err)
	}
	if !resp.Success() {
		d.logger.Warn("lark message rejected",
			zap.String("address", address),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("lark delivery: code=%d, msg=%s", resp.Code, resp.Msg)
	}
	return nil
}
