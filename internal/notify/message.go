package notify

import (
	"fmt"
	"html"
	"strings"

	apperrors "github.com/djinilabs/helpmaton-sub006/internal/errors"
	"github.com/djinilabs/helpmaton-sub006/internal/ledger"
	"github.com/djinilabs/helpmaton-sub006/internal/mailer"
	"github.com/djinilabs/helpmaton-sub006/internal/model"
)

// BuildMessage renders the subject and bodies for a pre-flight error. The
// recipient is filled in per owner.
func BuildMessage(errType model.NotificationErrorType, workspaceID string, err error, baseURL string) mailer.Message {
	var lines []string
	var subject string

	switch errType {
	case model.NotificationErrorCredit:
		subject = "Your workspace is out of credits"
		lines = append(lines, fmt.Sprintf("A request in workspace %s was refused because the credit balance is too low.", workspaceID))
		if e, ok := apperrors.AsInsufficientCredits(err); ok {
			lines = append(lines, fmt.Sprintf("Required: %s. Available: %s.",
				ledger.FormatIn(e.Required, e.Currency), ledger.FormatIn(e.Available, e.Currency)))
		}
		lines = append(lines, "Add credits to resume paid operations.")

	case model.NotificationErrorSpendingLimit:
		subject = "Your workspace reached a spending limit"
		lines = append(lines, fmt.Sprintf("A request in workspace %s was refused because it would exceed a spending limit.", workspaceID))
		if e, ok := apperrors.AsSpendingLimitExceeded(err); ok {
			for _, fl := range e.FailedLimits {
				lines = append(lines, fmt.Sprintf("%s %s limit %s, would reach %s.",
					fl.Scope, fl.TimeFrame, ledger.FormatIn(fl.Limit, e.Currency), ledger.FormatIn(fl.Current, e.Currency)))
			}
		}
		lines = append(lines, "Raise the limit or wait for the window to roll over.")
	}

	link := ""
	if baseURL != "" {
		link = strings.TrimRight(baseURL, "/") + "/workspaces/" + workspaceID + "/billing"
	}

	var text, htm strings.Builder
	for _, l := range lines {
		text.WriteString(l)
		text.WriteString("\n\n")
		fmt.Fprintf(&htm, "<p>%s</p>\n", html.EscapeString(l))
	}
	if link != "" {
		fmt.Fprintf(&text, "Manage billing: %s\n", link)
		fmt.Fprintf(&htm, "<p><a href=\"%s\">Manage billing</a></p>\n", html.EscapeString(link))
	}

	return mailer.Message{
		Subject: subject,
		Text:    text.String(),
		HTML:    htm.String(),
	}
}
