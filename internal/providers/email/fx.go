package email

import (
	"github.com/smallbiznis/crmjobs/internal/config"
	signaturedomain "github.com/smallbiznis/crmjobs/internal/signature/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
	fx.Provide(
		fx.Annotate(
			NewReminderNotifier,
			fx.As(new(signaturedomain.Notifier)),
		),
	),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	if cfg.SMTP.Host == "" {
		log.Warn("SMTP_HOST is empty, email delivery disabled")
		return &NoOpProvider{log: log.Named("email")}
	}
	return NewSMTP(Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
	})
}
