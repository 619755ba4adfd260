package data

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
	"github.com/rescuewatch/rescue-monitor/internal/biz/repo"
)

// logNotifier writes alerts to the log. It is always installed so alerts
// are visible without a chat integration.
type logNotifier struct {
	log *zap.Logger
}

// NewLogNotifier creates a notifier that logs alerts
func NewLogNotifier(log *zap.Logger) repo.NotifierRepo {
	return &logNotifier{log: log.Named("alert")}
}

func (n *logNotifier) NotifyClaim(ctx context.Context, alert domain.ClaimAlert) error {
	n.log.Info(alert.Title(), zap.String("body", alert.Body()))
	return nil
}

// fanoutNotifier delivers to every sink and joins their errors.
type fanoutNotifier []repo.NotifierRepo

// NewFanoutNotifier combines notifiers
func NewFanoutNotifier(sinks ...repo.NotifierRepo) repo.NotifierRepo {
	return fanoutNotifier(sinks)
}

func (f fanoutNotifier) NotifyClaim(ctx context.Context, alert domain.ClaimAlert) error {
	var errs []error
	for _, sink := range f {
		if err := sink.NotifyClaim(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
