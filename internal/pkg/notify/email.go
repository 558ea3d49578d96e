package notify

import (
	"fmt"
	"log/slog"
	"strings"

	"taskhub/internal/config"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// SendWelcome 发送注册欢迎邮件。
//
// SMTP 未配置时静默跳过：欢迎邮件是尽力而为的，不能阻塞注册流程。
func (n *EmailNotifier) SendWelcome(toEmail string, name string) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		n.logger.Warn("email config missing, skip welcome mail")
		return nil
	}
	if strings.TrimSpace(toEmail) == "" {
		n.logger.Warn("email recipient empty, skip welcome mail")
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "[TaskHub] 欢迎加入")

	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>欢迎使用 TaskHub，%s</h2>
    <p>你的账号已创建完成，现在就可以开始整理你的待办清单了。</p>
    <p style="color: #6b7280; font-size: 12px;">如果这不是你本人的操作，请忽略此邮件。</p>
  </div>
</body>
</html>`, name)
	m.SetBody("text/html", body)

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("welcome email sent", slog.String("to", toEmail))
	return nil
}
