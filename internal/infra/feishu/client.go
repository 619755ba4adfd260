// Package feishu sends claim alerts to a Feishu (Lark) chat.
package feishu

import (
	"context"
	"encoding/json"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

// Client is a send-only Feishu API client
type Client struct {
	larkCli *lark.Client
	log     *zap.Logger
}

// NewClient creates a new Feishu client. baseURL overrides the open
// platform endpoint when set.
func NewClient(appID, appSecret, baseURL string, log *zap.Logger) *Client {
	var opts []lark.ClientOptionFunc
	if baseURL != "" {
		opts = append(opts, lark.WithOpenBaseUrl(baseURL))
	}
	return &Client{
		larkCli: lark.NewClient(appID, appSecret, opts...),
		log:     log.Named("feishu"),
	}
}

// SendText sends a plain text message to a chat
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	content, _ := json.Marshal(map[string]string{"text": text})
	return c.send(ctx, chatID, larkim.MsgTypeText, string(content))
}

// SendRichText sends a post message with a title and one paragraph per line.
func (c *Client) SendRichText(ctx context.Context, chatID, title string, lines []string) error {
	paragraphs := make([][]map[string]string, 0, len(lines))
	for _, line := range lines {
		paragraphs = append(paragraphs, []map[string]string{{"tag": "text", "text": line}})
	}
	post := map[string]any{
		"zh_cn": map[string]any{
			"title":   title,
			"content": paragraphs,
		},
	}
	content, _ := json.Marshal(post)
	return c.send(ctx, chatID, larkim.MsgTypePost, string(content))
}

func (c *Client) send(ctx context.Context, chatID, msgType, content string) error {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("send message failed: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("send message error: %s", resp.Msg)
	}

	c.log.Debug("message sent", zap.String("chat_id", chatID), zap.String("type", msgType))
	return nil
}
