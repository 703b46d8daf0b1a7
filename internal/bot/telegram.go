package bot

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"riskwatch/internal/domain"

	tele "gopkg.in/telebot.v3"
)

type InvestigationLister interface {
	List(ctx context.Context, filter domain.InvestigationFilter) ([]domain.Investigation, error)
}

type InsightLister interface {
	List(ctx context.Context, filter domain.InsightFilter) ([]domain.TradingInsight, error)
}

func StartTelegramBot(investigations InvestigationLister, insights InsightLister) *AlertDispatcher {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return nil
	}
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		log.Fatalf("failed to create Telegram bot: %v", err)
	}
	alerts := NewAlertDispatcher(b)

	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})

	b.Handle("/investigations", func(c tele.Context) error {
		if investigations == nil {
			return c.Send("Investigation service unavailable")
		}

		filter, err := parseInvestigationArgs(c.Args())
		if err != nil {
			return c.Send("Usage: /investigations | /investigations HIGH | /investigations user123")
		}

		list, err := investigations.List(context.Background(), filter)
		if err != nil {
			return c.Send(fmt.Sprintf("Error fetching investigations: %v", err))
		}
		if len(list) == 0 {
			return c.Send("No matching investigations.")
		}

		lines := make([]string, 0, len(list)+1)
		lines = append(lines, "Latest investigations:")
		for _, inv := range list {
			lines = append(lines, formatInvestigationLine(inv))
		}
		return c.Send(strings.Join(lines, "\n"))
	})

	b.Handle("/insights", func(c tele.Context) error {
		if insights == nil {
			return c.Send("Insight service unavailable")
		}

		filter := domain.InsightFilter{Limit: 5}
		if args := c.Args(); len(args) > 0 {
			filter.TraderID = strings.TrimSpace(args[0])
		}

		list, err := insights.List(context.Background(), filter)
		if err != nil {
			return c.Send(fmt.Sprintf("Error fetching insights: %v", err))
		}
		if len(list) == 0 {
			return c.Send("No matching insights.")
		}

		lines := make([]string, 0, len(list)+1)
		lines = append(lines, "Latest insights:")
		for _, ins := range list {
			lines = append(lines, formatInsightLine(ins))
		}
		return c.Send(strings.Join(lines, "\n"))
	})

	b.Handle("/alerts", func(c tele.Context) error {
		chat := c.Chat()
		if chat == nil {
			return c.Send("Unable to detect chat")
		}

		mode, err := parseAlertMode(c.Args())
		if err != nil {
			return c.Send("Usage: /alerts on | /alerts off | /alerts status")
		}

		switch mode {
		case "on":
			if alerts.Subscribe(chat.ID) {
				return c.Send("Critical investigation alerts enabled for this chat.")
			}
			return c.Send("Critical investigation alerts are already enabled for this chat.")
		case "off":
			if alerts.Unsubscribe(chat.ID) {
				return c.Send("Critical investigation alerts disabled for this chat.")
			}
			return c.Send("Critical investigation alerts are already disabled for this chat.")
		default:
			if alerts.IsSubscribed(chat.ID) {
				return c.Send("Alerts status: ON")
			}
			return c.Send("Alerts status: OFF")
		}
	})

	log.Println("Telegram bot started")
	go b.Start()
	return alerts
}

func parseInvestigationArgs(args []string) (domain.InvestigationFilter, error) {
	filter := domain.InvestigationFilter{Limit: 5}

	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}
		if strings.HasPrefix(arg, "--") {
			return domain.InvestigationFilter{}, fmt.Errorf("unknown option")
		}
		if level, err := domain.ParseSeverityLevel(arg); err == nil {
			if filter.Severity != nil {
				return domain.InvestigationFilter{}, fmt.Errorf("multiple severities provided")
			}
			filter.Severity = &level
			continue
		}
		if filter.UserID != "" {
			return domain.InvestigationFilter{}, fmt.Errorf("multiple user ids provided")
		}
		filter.UserID = arg
	}

	return filter, nil
}

func formatInvestigationLine(inv domain.Investigation) string {
	return fmt.Sprintf(
		"%s %s user %s score %.1f at %s",
		inv.ID,
		inv.Severity,
		inv.Activity.UserID,
		inv.Justification.FinalScore,
		inv.CreatedAt.UTC().Format(time.RFC822),
	)
}

func formatInsightLine(ins domain.TradingInsight) string {
	return fmt.Sprintf(
		"%s %s trader %s score %.1f at %s",
		ins.ID,
		ins.Pressure.Level,
		ins.TraderID,
		ins.DeterministicScore,
		ins.CreatedAt.UTC().Format(time.RFC822),
	)
}
