package flow

import (
	"strings"

	"promobot/internal/config"
)

// Messages are the scripted replies. All business-rule rejections
// (quota exhausted, already delivered, invalid selection) surface to
// the end user through these, never as errors.
type Messages struct {
	AskName          string
	Confirmation     string
	AlreadyReceived  string
	QuotaExhausted   string
	AlreadyUsed      string
	InvalidSelection string
	ListBody         string
	ListButton       string
}

func defaultMessages() Messages {
	return Messages{
		AskName:          "Thanks for your interest! Please reply with your name to claim your offer.",
		Confirmation:     "Thank you {name}! Here is your exclusive offer.",
		AlreadyReceived:  "You have already received your offer.",
		QuotaExhausted:   "Sorry, all offers have been claimed for now. Please try again later.",
		AlreadyUsed:      "Your offer has already been used.",
		InvalidSelection: "Sorry, that option isn't available. Please pick one from the list.",
		ListBody:         "Pick a product to claim your discount:",
		ListButton:       "View products",
	}
}

func messagesFromConfig(mc config.MessagesConfig) Messages {
	m := defaultMessages()
	if v := strings.TrimSpace(mc.AskName); v != "" {
		m.AskName = v
	}
	if v := strings.TrimSpace(mc.Confirmation); v != "" {
		m.Confirmation = v
	}
	if v := strings.TrimSpace(mc.AlreadyReceived); v != "" {
		m.AlreadyReceived = v
	}
	if v := strings.TrimSpace(mc.QuotaExhausted); v != "" {
		m.QuotaExhausted = v
	}
	if v := strings.TrimSpace(mc.AlreadyUsed); v != "" {
		m.AlreadyUsed = v
	}
	if v := strings.TrimSpace(mc.InvalidSelection); v != "" {
		m.InvalidSelection = v
	}
	if v := strings.TrimSpace(mc.ListBody); v != "" {
		m.ListBody = v
	}
	if v := strings.TrimSpace(mc.ListButton); v != "" {
		m.ListButton = v
	}
	return m
}

func (m Messages) confirmationFor(name string) string {
	return strings.ReplaceAll(m.Confirmation, "{name}", name)
}
