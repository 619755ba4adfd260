package data

import (
	"context"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
	"github.com/rescuewatch/rescue-monitor/internal/biz/repo"
	"github.com/rescuewatch/rescue-monitor/internal/infra/feishu"
)

// feishuNotifier posts claim alerts to a Feishu chat
type feishuNotifier struct {
	client *feishu.Client
	chatID string
}

// NewFeishuNotifier creates a new Feishu notifier
func NewFeishuNotifier(client *feishu.Client, chatID string) repo.NotifierRepo {
	return &feishuNotifier{client: client, chatID: chatID}
}

// NotifyClaim sends the alert as a rich text post
func (n *feishuNotifier) NotifyClaim(ctx context.Context, alert domain.ClaimAlert) error {
	return n.client.SendRichText(ctx, n.chatID, alert.Title(), []string{alert.Body()})
}
